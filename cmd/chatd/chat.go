package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"chatd/internal/backend"
	"chatd/pkg/types"
)

func newChatCmd(c *cli) *cobra.Command {
	var (
		system      string
		maxTokens   int
		temperature float32
		noStream    bool
		gpuLayers   int
	)
	cmd := &cobra.Command{
		Use:   "chat <file-id> [prompt...]",
		Short: "Load a downloaded model and chat with it",
		Long:  "With a prompt, prints one answer. Without one, reads prompts from stdin until EOF, keeping the conversation.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.client.Load(ctx, args[0], types.LoadModelOptions{GPULayers: types.GPULayers(gpuLayers)}); err != nil {
					return fmt.Errorf("load %s: %w", args[0], err)
				}
				s := &chatSession{
					client: a.client,
					out:    cmd.OutOrStdout(),
					stream: !noStream,
					base: types.ChatRequest{
						Model:       args[0],
						MaxTokens:   maxTokens,
						Temperature: temperature,
					},
				}
				if system != "" {
					s.history = append(s.history, types.ChatMessage{Role: openai.ChatMessageRoleSystem, Content: system})
				}
				if len(args) > 1 {
					return s.ask(ctx, strings.Join(args[1:], " "))
				}
				return s.repl(ctx, cmd.InOrStdin())
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&system, "system", "", "system prompt")
	f.IntVar(&maxTokens, "max-tokens", 0, "stop after this many tokens (0: model default)")
	f.Float32Var(&temperature, "temperature", 0.8, "sampling temperature")
	f.BoolVar(&noStream, "no-stream", false, "print the answer only once it is complete")
	f.IntVar(&gpuLayers, "gpu-layers", int(types.GPULayersMax), "layers to offload to the GPU (-1 for all)")
	return cmd
}

type chatSession struct {
	client  *backend.Client
	out     io.Writer
	stream  bool
	base    types.ChatRequest
	history []types.ChatMessage
}

// ask sends prompt with the conversation so far and records the answer.
func (s *chatSession) ask(ctx context.Context, prompt string) error {
	req := s.base
	req.Stream = s.stream
	req.Messages = append(append([]types.ChatMessage(nil), s.history...),
		types.ChatMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	var answer strings.Builder
	err := s.client.Chat(ctx, req, func(item types.ChatResponse) {
		text := item.Text()
		if item.Final != nil && s.stream {
			return
		}
		answer.WriteString(text)
		fmt.Fprint(s.out, text)
	})
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}
	s.history = append(req.Messages, types.ChatMessage{Role: openai.ChatMessageRoleAssistant, Content: answer.String()})
	return nil
}

func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for {
		fmt.Fprint(s.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(s.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := s.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
