// Command otlpconv encodes span records into OTLP/HTTP protobuf requests, sends
// them to a trace collector and inspects the local request archive.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zmzlois/browser-thing/internal/exporter"
	"github.com/zmzlois/browser-thing/internal/otlptrace"
)

type rootOptions struct {
	envFile  string
	logLevel string
	logger   *zap.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "otlpconv",
		Short:         "Encode and export spans as OTLP protobuf",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			logger, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with OTLPCONV_* settings")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newEncodeCommand(opts),
		newExportCommand(opts),
		newSendCommand(opts),
		newArchiveCommand(opts),
	)
	return root
}

// loadEnvFile loads path into the environment. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && !explicit {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func newEncodeCommand(opts *rootOptions) *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a JSON array of span records into an ExportTraceServiceRequest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := exporter.LoadConfig()
			if err != nil {
				return err
			}

			spans, err := readSpanRecords(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}

			converter := otlptrace.NewConverter(cfg.Identity(), cfg.StrictIDs, opts.logger)
			payload, err := converter.ConvertSpansToProtobuf(spans)
			if err != nil {
				return err
			}

			if err := writeOutput(cmd.OutOrStdout(), output, payload); err != nil {
				return err
			}
			opts.logger.Info("Encoded export request",
				zap.Int("spans", len(spans)),
				zap.Int("bytes", len(payload)),
				zap.String("output", output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "span record JSON file, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "trace_request.bin", "protobuf output file, - for stdout")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Encode span records and POST them to the configured endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spans, err := readSpanRecords(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}
			return withExporter(cmd, opts, func(exp *exporter.Exporter) error {
				if err := exp.Export(cmd.Context(), spans); err != nil {
					return err
				}
				opts.logger.Info("Exported spans", zap.Int("spans", len(spans)))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "span record JSON file, - for stdin")
	return cmd
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "POST an already encoded request body to the configured endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readInput(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}
			return withExporter(cmd, opts, func(exp *exporter.Exporter) error {
				if err := exp.Send(cmd.Context(), payload); err != nil {
					return err
				}
				opts.logger.Info("Sent export request", zap.Int("bytes", len(payload)))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "trace_request.bin", "protobuf request file, - for stdin")
	return cmd
}

// withExporter runs fn with an exporter built from the environment and shuts it down afterwards.
func withExporter(cmd *cobra.Command, opts *rootOptions, fn func(*exporter.Exporter) error) (err error) {
	cfg, err := exporter.LoadConfig()
	if err != nil {
		return err
	}

	exp, err := exporter.New(cfg, opts.logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := exp.Shutdown(cmd.Context()); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if err := exp.Start(cmd.Context(), nil); err != nil {
		return fmt.Errorf("failed to start exporter: %w", err)
	}
	return fn(exp)
}

func readSpanRecords(stdin io.Reader, path string) ([]otlptrace.SpanRecord, error) {
	r, closeFn, err := openInput(stdin, path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return otlptrace.DecodeSpanRecords(r)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	r, closeFn, err := openInput(stdin, path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func openInput(stdin io.Reader, path string) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
