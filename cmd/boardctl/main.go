package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/config"
	"prism-board/reminder"
	"prism-board/session"
	"prism-board/storage"
)

// openStore builds the store for cfg. Tests replace it.
var openStore = func(cfg config.Config, logger *log.Logger) (storage.Store, error) {
	opts, err := cfg.StoreOptions(cfg.RedisClient())
	if err != nil {
		return nil, err
	}
	opts.Logger = logger
	st, err := storage.Open(opts)
	if err != nil {
		return nil, err
	}
	return st, nil
}

type app struct {
	cfg    config.Config
	logger *log.Logger
	ctrl   *session.Controller
	out    io.Writer
	width  int
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boardctl",
		Short:         "Inspect and edit the shared kanban board",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return a.setup(cmd.Context(), envFile)
		},
	}
	root.PersistentFlags().String("env-file", "", "Read configuration from this .env file")
	root.PersistentFlags().IntVar(&a.width, "width", 30, "Column width when rendering boards")
	root.AddCommand(
		a.showCmd(),
		a.watchCmd(),
		a.addCardCmd(),
		a.editCardCmd(),
		a.moveCardCmd(),
		a.deleteCardCmd(),
		a.addBoardCmd(),
		a.editBoardCmd(),
		a.deleteBoardCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context, envFile string) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = log.New()
	a.logger.SetOutput(os.Stderr)
	a.logger.SetLevel(log.WarnLevel)
	if cfg.Debug {
		a.logger.SetLevel(log.DebugLevel)
	}

	store, err := openStore(cfg, a.logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	dispatcher, err := a.reminders()
	if err != nil {
		return err
	}
	a.ctrl = session.New(store, session.Options{
		DisplayName:     cfg.DisplayName,
		ConditionalSave: cfg.ConditionalWrites,
		Reminders:       dispatcher,
		Logger:          a.logger,
	})
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return a.ctrl.Connect(ctx)
}

func (a *app) reminders() (*reminder.Dispatcher, error) {
	var notifier reminder.Notifier = reminder.LogNotifier{Logger: a.logger}
	if a.cfg.ReminderWebhookURL != "" {
		notifier = reminder.WebhookNotifier{URL: a.cfg.ReminderWebhookURL}
	}
	var recorder reminder.Recorder = &reminder.MemoryRecorder{}
	if a.cfg.ReminderQueue != "" && a.cfg.ConnectionString != "" {
		qr, err := reminder.NewQueueRecorder(a.cfg.ConnectionString, a.cfg.ReminderQueue)
		if err != nil {
			return nil, fmt.Errorf("reminder queue: %w", err)
		}
		recorder = qr
	} else {
		a.logger.Debug("no reminder queue configured, future reminders are not persisted")
	}
	return reminder.NewDispatcher(notifier, recorder, reminder.WithLogger(a.logger)), nil
}

func (a *app) close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	a := &app{out: out}
	defer a.close()
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
