package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lesfleursdelanuitdev/mycelia"
	"github.com/lesfleursdelanuitdev/mycelia/internal/config"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/request"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
	"github.com/lesfleursdelanuitdev/mycelia/internal/tracing"
)

var demoTrace bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a one-shot request/response round trip between two subsystems",
	RunE:  runDemo,
}

func init() {
	demoCmd.Flags().BoolVar(&demoTrace, "trace", false, "print otel spans for each send")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ms, err := mycelia.New(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("booting kernel: %w", err)
	}
	defer func() { _ = ms.Close() }()

	if demoTrace || cfg.Trace.Enabled {
		tracer, shutdown, terr := tracing.Init("myceliactl", os.Stdout)
		if terr != nil {
			return terr
		}
		defer func() { _ = shutdown(context.Background()) }()
		ms.SetTracer(tracer)
	}

	echo, err := mycelia.NewSubsystem(mycelia.SubsystemConfig{Name: "echo"})
	if err != nil {
		return err
	}
	caller, err := mycelia.NewSubsystem(mycelia.SubsystemConfig{Name: "caller"})
	if err != nil {
		return err
	}
	if _, err := ms.RegisterSubsystem(ctx, echo); err != nil {
		return err
	}
	if _, err := ms.RegisterSubsystem(ctx, caller); err != nil {
		return err
	}

	// The echo handler replies to whatever reply route the request
	// named.
	err = echo.RegisterRoute("echo://say/{word}", func(hctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		rr := msg.Meta.ResponseRequired
		if rr == nil {
			return nil, fmt.Errorf("no reply route")
		}
		factory, _ := echo.Messages()
		reply := factory.New(rr.ReplyTo,
			map[string]any{"ok": true, "word": routing.Param(hctx, "word")},
			message.WithInReplyTo(msg.ID),
		)
		replyOpts := message.NewOptions()
		replyOpts.SetIsResponse(true)
		_, serr := echo.Send(hctx, reply, replyOpts)
		return nil, serr
	}, routing.Metadata{Description: "echo one word back"})
	if err != nil {
		return err
	}

	factory, _ := caller.Messages()
	requests, _ := caller.Requests()
	msg := factory.New("echo://say/hello", nil)

	future := requests.Request(ctx, msg, request.OneShotOptions{TimeoutMillis: 1000})

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	result, err := future.Await(awaitCtx)
	if err != nil {
		return err
	}
	reply, ok := result.(*message.Message)
	if !ok {
		return fmt.Errorf("unexpected reply %T", result)
	}
	fmt.Printf("reply: %v\n", reply.Body)
	return nil
}
