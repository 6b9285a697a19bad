package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/lampyd/internal/app"
	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/control"
	"github.com/dokzlo13/lampyd/internal/db"
	"github.com/dokzlo13/lampyd/internal/device"
	"github.com/dokzlo13/lampyd/internal/devicesync"
	"github.com/dokzlo13/lampyd/internal/ledger"
	"github.com/dokzlo13/lampyd/internal/pattern"
	"github.com/dokzlo13/lampyd/internal/preview"
	"github.com/dokzlo13/lampyd/internal/script"
	"github.com/dokzlo13/lampyd/internal/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: sync with the lamp and serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			log.Info().Str("config", configPath).Msg("Starting lampyd")

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("create application: %w", err)
			}

			// Create context that cancels on shutdown signal
			ctx := app.SignalContext()

			if err := application.Start(ctx, true); err != nil {
				application.Stop()
				return fmt.Errorf("start application: %w", err)
			}

			application.Wait()
			return application.Stop()
		},
	}
}

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Run the daemon with a desktop preview window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("create application: %w", err)
			}
			defer application.Stop()

			ctx := app.SignalContext()

			// the window drives the render clock
			if err := application.Start(ctx, false); err != nil {
				return fmt.Errorf("start application: %w", err)
			}

			svc := application.Services()
			game := preview.New(svc.Render, svc.State, func() string {
				return svc.Device.Channel.Status().Text
			})
			return preview.Run(ctx, game)
		},
	}
}

func statusCmd() *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the lamp's current settings and recent sync history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			catalog, release := loadCatalog(cfg)
			defer release()

			client := device.NewClient(cfg.Device.BaseURL, cfg.Device.RequestTimeout.Duration())
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Device.RequestTimeout.Duration())
			defer cancel()

			out := cmd.OutOrStdout()
			start := time.Now()
			status, err := client.Status(ctx)
			if err != nil {
				fmt.Fprintf(out, "Lamp:        %s (%s)\n", devicesync.StatusText(devicesync.StateOffline, nil), err)
			} else {
				name := "unknown"
				if p, ok := catalog.Get(status.CurrentPattern); ok {
					name = p.Name
				}
				brightness := device.FromDeviceBrightness(status.Brightness)
				fmt.Fprintf(out, "Lamp:        %s (answered in %s)\n", cfg.Device.BaseURL, time.Since(start).Round(time.Millisecond))
				fmt.Fprintf(out, "Pattern:     %d %s\n", status.CurrentPattern, name)
				fmt.Fprintf(out, "Brightness:  %d%% (raw %d)\n", brightness, status.Brightness)
				if status.Speed != nil {
					fmt.Fprintf(out, "Speed:       %d (%s)\n", *status.Speed, control.SpeedLabel(*status.Speed))
				}
			}

			if history <= 0 {
				return nil
			}
			if _, err := os.Stat(cfg.Database.Path); err != nil {
				return nil
			}
			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			entries, err := ledger.New(database.DB).Recent(history)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return nil
			}
			fmt.Fprintln(out, "\nRecent sync history:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", humanize.Time(e.Timestamp), e.EventType, describePayload(e.Payload))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&history, "history", "n", 5, "Number of sync history entries to show")
	return cmd
}

func discoverCmd() *cobra.Command {
	var noSave bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Ask the lamp to scan for nearby devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			var store interface {
				control.DeviceStore
				LastSeen(id string) (time.Time, bool, error)
			}
			if noSave {
				store = memoryStore{storage.NewMemoryDeviceStore()}
			} else {
				database, err := db.Open(cfg.Database.Path)
				if err != nil {
					return err
				}
				defer database.Close()
				store = storage.NewDeviceStore(database.DB)
			}

			client := device.NewClient(cfg.Device.BaseURL, cfg.Device.RequestTimeout.Duration())
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Device.RequestTimeout.Duration())
			defer cancel()

			found, err := client.Discover(ctx)
			if err != nil {
				return fmt.Errorf("discovery failed: %w", err)
			}

			registry, err := control.NewRegistry(nil, store)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tADDRESS\tSEEN")
			devices := make([]control.Device, 0, len(found))
			for _, d := range found {
				dev := control.FromDescriptor(d)
				seen := "new"
				if t, ok, err := store.LastSeen(dev.ID); err == nil && ok {
					seen = humanize.Time(t)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", dev.ID, dev.Name, dev.Transport, dev.Address, seen)
				devices = append(devices, dev)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			added := registry.Upsert(devices...)
			fmt.Fprintf(out, "\nFound %s devices, %s new\n", humanize.Comma(int64(len(found))), humanize.Comma(int64(added)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store discovered devices")
	return cmd
}

// memoryStore has no discovery history
type memoryStore struct {
	*storage.MemoryDeviceStore
}

func (memoryStore) LastSeen(string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <device-id>...",
		Short: "Remove previously discovered devices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			store := storage.NewDeviceStore(database.DB)
			for _, id := range args {
				if err := store.Delete(id); err != nil {
					return fmt.Errorf("forget %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", id)
			}
			return nil
		},
	}
}

func patternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List built-in and scripted patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			catalog, release := loadCatalog(cfg)
			defer release()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVARIANT\tCOLORS")
			for _, p := range catalog.List() {
				colors := make([]string, len(p.Colors))
				for i, c := range p.Colors {
					colors[i] = c.String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Name, p.Variant, strings.Join(colors, " "))
			}
			return w.Flush()
		},
	}
}

// loadCatalog returns the built-in catalog plus any scripted patterns.
// Scripted patterns stay registered until release is called.
func loadCatalog(cfg *config.Config) (catalog *pattern.Catalog, release func()) {
	catalog = pattern.Default()
	if cfg.Scripts.Dir == "" {
		return catalog, func() {}
	}

	engine := script.NewEngine(catalog)
	engine.SetTimeouts(cfg.Scripts.LoadTimeout.Duration(), cfg.Scripts.SampleTimeout.Duration())
	if _, err := engine.LoadDir(cfg.Scripts.Dir); err != nil {
		log.Warn().Err(err).Str("dir", cfg.Scripts.Dir).Msg("Failed to load pattern scripts")
	}
	return catalog, engine.Close
}

func describePayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	parts := make([]string, 0, len(payload))
	for _, k := range []string{"pattern", "brightness", "speed", "found", "error"} {
		if v, ok := payload[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, " ")
}
