// Command juniper-ls is a Language Server Protocol server for Juniper.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/juniper-lang/juniper-ls/lsp"
)

var (
	debugFlag       = flag.Bool("debug", false, "Enable debug logging")
	logfileFlag     = flag.String("logfile", "", "Log file path (in addition to LSP window/logMessage)")
	traceFlag       = flag.Bool("trace", false, "Enable trace logging (very verbose)")
	sourceFlag      = flag.String("source-pattern", "*.jun", "Doublestar glob matched against workspace file names")
	languageVerFlag = flag.String("language-version", "", "Juniper language version, controls the package-init-file rule")
)

func main() {
	flag.Parse()

	var level zapcore.Level
	switch {
	case *traceFlag, *debugFlag:
		level = zapcore.DebugLevel
	default:
		level = zapcore.InfoLevel
	}

	stderrConfig := zap.NewDevelopmentConfig()
	stderrConfig.OutputPaths = []string{"stderr"}
	stderrConfig.ErrorOutputPaths = []string{"stderr"}
	stderrConfig.Level = zap.NewAtomicLevelAt(level)

	startupLogger, err := stderrConfig.Build()
	if err != nil {
		panic(err)
	}

	startupLogger.Info("starting juniper-ls",
		zap.Bool("debug", *debugFlag),
		zap.Bool("trace", *traceFlag),
		zap.String("logfile", *logfileFlag))

	ctx := context.Background()

	if err := run(ctx, startupLogger, os.Stdin, os.Stdout, level); err != nil {
		if errors.Is(err, io.EOF) {
			startupLogger.Info("client disconnected")
			return
		}
		if err.Error() == "closed" {
			startupLogger.Info("connection closed")
			return
		}
		startupLogger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, startupLogger *zap.Logger, in io.Reader, out io.Writer, level zapcore.Level) error {
	stream := jsonrpc2.NewStream(&readWriteCloser{in, out})
	conn := jsonrpc2.NewConn(stream)

	client := protocol.ClientDispatcher(conn, startupLogger)

	var stderrCore zapcore.Core
	if *logfileFlag != "" {
		file, err := os.OpenFile(*logfileFlag, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			startupLogger.Warn("failed to open logfile, falling back to stderr", zap.Error(err))
			stderrCore = createStderrCore(level)
		} else {
			stderrCore = zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(file),
				level,
			)
		}
	} else {
		stderrCore = createStderrCore(level)
	}

	logger := lsp.NewLSPLogger(client, stderrCore, level)
	logger.Info("LSP connection established, logging to window/logMessage")

	server := lsp.NewServer(client, logger, lsp.Options{
		SourcePattern:   *sourceFlag,
		LanguageVersion: *languageVerFlag,
	})

	conn.Go(ctx, lsp.WithVersionExtension(protocol.ServerHandler(server, nil)))
	<-conn.Done()

	return conn.Err()
}

func createStderrCore(level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
}

// readWriteCloser wraps separate reader/writer into io.ReadWriteCloser.
type readWriteCloser struct {
	io.Reader
	io.Writer
}

func (rwc *readWriteCloser) Close() error {
	if c, ok := rwc.Writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
