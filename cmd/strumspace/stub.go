package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/strumspace/internal/logging"
	"github.com/dreamware/strumspace/internal/service"
	"github.com/dreamware/strumspace/internal/stub"
)

type stubOptions struct {
	name         string
	listen       string
	public       string
	register     string
	mode         string
	delay        time.Duration
	capabilities []string
}

func newStubCmd() *cobra.Command {
	opts := &stubOptions{}
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run a stand-in interpreter or tracker",
		Long: `Run a stub that speaks the interpreter and tracker HTTP contract.
Its answer mode can be switched at runtime to exercise the orchestrator's
retry and fallback paths:

  curl -X POST localhost:3002/control -d '{"mode":"fail"}'

Modes: ok, fail, slow, garbage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			defer logging.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStub(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", service.Interpreter, "service name to report and register under")
	cmd.Flags().StringVar(&opts.listen, "listen", ":3002", "listen address")
	cmd.Flags().StringVar(&opts.public, "public", "", "public base URL announced on registration (default http://127.0.0.1<listen>)")
	cmd.Flags().StringVar(&opts.register, "register", "", "strumspace base URL to register with; empty skips registration")
	cmd.Flags().StringVar(&opts.mode, "mode", string(stub.ModeOK), "initial answer mode")
	cmd.Flags().DurationVar(&opts.delay, "delay", 3*time.Second, "answer delay in slow mode")
	cmd.Flags().StringSliceVar(&opts.capabilities, "capability", nil, "capability to announce (repeatable)")
	return cmd
}

func runStub(ctx context.Context, opts *stubOptions) error {
	s := stub.New(opts.name, nil, opts.delay)
	if err := s.SetMode(stub.Mode(opts.mode)); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Stub", "%s stub listening on %s", opts.name, opts.listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if opts.register != "" {
		public := opts.public
		if public == "" {
			public = "http://127.0.0.1" + opts.listen
		}
		req := service.RegisterRequest{ServiceName: opts.name, ServiceURL: public, Capabilities: opts.capabilities}
		if err := stub.Register(ctx, service.NewClient(nil), opts.register, req, 10, 400*time.Millisecond); err != nil {
			logging.Error("Stub", err, "Registration failed; serving unregistered")
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info("Stub", "%s stub stopped", opts.name)
	return nil
}
