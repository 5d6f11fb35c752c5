// Command demo is a reference embedder for github.com/cran/httpuv: it wires
// up a trivial WebApplication that echoes WebSocket messages and serves a
// static greeting over plain HTTP, to show how a real process binds the
// core library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/cran/httpuv"
)

// echoApp is the demo's WebApplication: every HTTP request gets a fixed greeting,
// and any WebSocket connection gets its messages echoed straight back.
type echoApp struct {
	log zerolog.Logger
}

func (a *echoApp) OnHeaders(c *httpuv.Connection) *httpuv.Response {
	return nil
}

func (a *echoApp) OnBodyData(c *httpuv.Connection, data []byte) {}

func (a *echoApp) GetResponse(c *httpuv.Connection) *httpuv.Response {
	resp := httpuv.NewResponse(200, "OK", c.Headers())
	resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	resp.SetBody(httpuv.NewInMemoryDataSource([]byte("hello from httpuv demo\n")))
	return resp
}

func (a *echoApp) OnWSOpen(c *httpuv.Connection) {
	a.log.Info().Str("remote", c.RemoteAddr().String()).Msg("websocket opened")
}

func (a *echoApp) OnWSMessage(c *httpuv.Connection, binary bool, data []byte) {
	if err := c.SendWSMessage(binary, data); err != nil {
		a.log.Warn().Err(err).Msg("echo send failed")
	}
}

func (a *echoApp) OnWSClose(c *httpuv.Connection) {
	a.log.Info().Str("remote", c.RemoteAddr().String()).Msg("websocket closed")
}

func main() {
	cmd := &cli.Command{
		Name:  "httpuv-demo",
		Usage: "reference embedder for the httpuv core",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: ":8080",
				Usage: "address to listen on",
			},
			&cli.BoolFlag{
				Name:  "no-compression",
				Usage: "disable gzip compression for eligible responses",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := log.With().Str("component", "httpuv-demo").Logger()

	opts := httpuv.Options{
		Addr:               cmd.String("addr"),
		DisableCompression: cmd.Bool("no-compression"),
	}

	app := &echoApp{log: logger}
	srv, err := httpuv.NewServerWithLogger(opts, app, logger)
	if err != nil {
		return err
	}
	srv.WithMetrics(httpuv.NewMetrics(nil))

	logger.Info().Str("addr", srv.Addr().String()).Msg("listening")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case <-sigCtx.Done():
		logger.Info().Msg("shutting down")
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
