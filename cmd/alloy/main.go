// Command alloy runs a one-shot agent conversation from the command line:
//
//	alloy -config alloy.toml "summarize the go.mod of this repo"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	alloy "github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/internal/config"
	"github.com/alloyhq/alloy/observer"
	"github.com/alloyhq/alloy/provider/resolve"
	"github.com/alloyhq/alloy/scratchpad"
	"github.com/alloyhq/alloy/tools/file"
	"github.com/alloyhq/alloy/tools/markdown"
	"github.com/alloyhq/alloy/tools/notepad"
	"github.com/alloyhq/alloy/tools/shell"
	"github.com/alloyhq/alloy/tools/web"
)

func main() {
	configPath := flag.String("config", "", "path to alloy.toml")
	stream := flag.Bool("stream", false, "stream the response")
	flag.Parse()

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: alloy [-config alloy.toml] [-stream] <prompt>")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load(*configPath)
	ctx := context.Background()

	provider, providerCfg, err := resolve.Model(cfg.LLM.Model, alloy.ProviderConfig{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		MaxTokens:      cfg.LLM.MaxTokens,
		System:         cfg.Agent.SystemPrompt,
		ThinkingBudget: cfg.LLM.ThinkingBudget,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "alloy:", err)
		os.Exit(1)
	}

	opts := []alloy.AgentOption{
		alloy.WithProviderConfig(providerCfg),
		alloy.WithSystemPrompt(cfg.Agent.SystemPrompt),
		alloy.WithMaxTurns(cfg.Agent.MaxTurns),
		alloy.WithMaxTokens(cfg.Agent.ContextTokens),
		alloy.WithRetry(cfg.Agent.MaxRetries, time.Duration(cfg.Agent.RetryBackoffMS)*time.Millisecond),
		alloy.WithWorkDir(cfg.Agent.Workspace),
		alloy.WithLogger(logger),
	}
	if cfg.Agent.TimeoutMS > 0 {
		opts = append(opts, alloy.WithTimeout(time.Duration(cfg.Agent.TimeoutMS)*time.Millisecond))
	}

	if cfg.Agent.EnableTools {
		if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "alloy: workspace:", err)
			os.Exit(1)
		}
		var shellOpts []shell.Option
		if cfg.Agent.SandboxImage != "" {
			shellOpts = append(shellOpts, shell.Sandboxed(cfg.Agent.SandboxImage))
		}
		opts = append(opts, alloy.WithTools(file.Tools(cfg.Agent.Workspace)...))
		opts = append(opts, alloy.WithTools(
			shell.New(cfg.Agent.Workspace, shellOpts...),
			web.New(),
			markdown.New(),
		))
		opts = append(opts, alloy.WithTools(notepad.Tools()...))

		if cfg.Scratchpad.Path != "" {
			pad, err := scratchpad.Open(cfg.Scratchpad.Path, scratchpad.WithLogger(logger))
			if err != nil {
				fmt.Fprintln(os.Stderr, "alloy: scratchpad:", err)
				os.Exit(1)
			}
			opts = append(opts, alloy.WithScratchpad(pad))
		}
	}

	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			fmt.Fprintln(os.Stderr, "alloy: observer:", err)
			os.Exit(1)
		}
		defer shutdown(ctx)
		provider = observer.WrapProvider(provider, inst)
		opts = append(opts, alloy.WithTracer(observer.NewTracer()), alloy.WithCost(inst.Cost.CostFunc()))
	}

	var result alloy.Result
	if *stream {
		agent := alloy.New(provider, opts...)
		defer agent.Stop()
		result, err = agent.StreamChat(ctx, prompt, func(text string) {
			fmt.Print(text)
		}, nil)
		fmt.Println()
	} else {
		result, err = alloy.Run(ctx, provider, prompt, opts...)
		fmt.Println(result.Text)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "alloy:", err)
		os.Exit(1)
	}

	logger.Info("done",
		"status", result.Status,
		"turns", result.Turns,
		"tokens.input", result.Usage.InputTokens,
		"tokens.output", result.Usage.OutputTokens)
}
