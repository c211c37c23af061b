package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcf-tools/pcf-dev-proxy/internal/browser"
	"github.com/pcf-tools/pcf-dev-proxy/internal/config"
	"github.com/pcf-tools/pcf-dev-proxy/internal/hmr"
	"github.com/pcf-tools/pcf-dev-proxy/internal/proxy"
	"github.com/pcf-tools/pcf-dev-proxy/internal/ui"
	"github.com/pcf-tools/pcf-dev-proxy/internal/watcher"
)

// runServe starts the proxy and, in hot mode, the control plane and
// optional bundle watcher. It blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	flags := config.Config{}
	flags.Port, _ = cmd.Flags().GetInt("port")
	flags.WsPort, _ = cmd.Flags().GetInt("ws-port")
	flags.ServeDir, _ = cmd.Flags().GetString("dir")
	flags.ControlName, _ = cmd.Flags().GetString("control")
	flags.Browser, _ = cmd.Flags().GetString("browser")
	flags.Hot, _ = cmd.Flags().GetBool("hot")
	flags.WatchBundle, _ = cmd.Flags().GetBool("watch-bundle")
	flags.Yes, _ = cmd.Flags().GetBool("yes")

	cfg, err := config.Resolve(flags)
	if err != nil {
		return err
	}

	ui.PrintInfo("%s", ui.TitleStyle.Render("pcf-dev-proxy"))
	ui.PrintDim("Control:  %s (registry key %s)", cfg.ControlName, config.ShortName(cfg.ControlName))
	ui.PrintDim("Serving:  %s", cfg.ServeDir)
	ui.PrintDim("Proxy:    https://127.0.0.1:%d", cfg.Port)
	if cfg.Hot {
		ui.PrintLink("HMR", fmt.Sprintf("http://127.0.0.1:%d/health", cfg.WsPort))
	}
	ui.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var controlPlane *hmr.Server
	var bundleWatcher *watcher.BundleWatcher

	if cfg.Hot {
		controlPlane = hmr.NewServer(cfg.WsPort, cfg.ControlName)
		if err := controlPlane.Start(); err != nil {
			if isAddrInUse(err) {
				return fmt.Errorf("%v\nAnother process is using port %d; stop it or pass --ws-port", err, cfg.WsPort)
			}
			return err
		}
		ui.PrintSuccess("Hot reload control plane listening on port %d", cfg.WsPort)

		if cfg.WatchBundle {
			bundleWatcher = watcher.New(cfg.ServeDir, cfg.ControlName, controlPlane.Dispatcher())
			if err := bundleWatcher.Start(); err != nil {
				controlPlane.Close()
				return err
			}
			ui.PrintSuccess("Watching %s for bundle changes", cfg.ServeDir)
		}
	}

	mitm, err := proxy.NewServer(proxy.Options{
		Port:        cfg.Port,
		ControlName: cfg.ControlName,
		ServeDir:    cfg.ServeDir,
		Hot:         cfg.Hot,
		WsPort:      cfg.WsPort,
		CaRootPath:  cfg.CaRootPath,
	})
	if err != nil {
		shutdown(nil, controlPlane, bundleWatcher)
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- mitm.Start()
	}()

	if cfg.Browser != "" {
		if confirmLaunch(cfg) {
			if err := browser.Launch(cfg.Browser, cfg.Port, ""); err != nil {
				ui.PrintWarning("Failed to launch %s: %v", cfg.Browser, err)
			}
		}
	}

	ui.PrintSuccess("Proxy listening on port %d, press Ctrl+C to stop", cfg.Port)

	select {
	case err := <-serveErr:
		shutdown(nil, controlPlane, bundleWatcher)
		if err != nil {
			if isAddrInUse(err) {
				return fmt.Errorf("%v\nAnother process is using port %d; stop it or pass --port", err, cfg.Port)
			}
			return err
		}
		return nil

	case <-ctx.Done():
		ui.Println()
		ui.PrintInfo("Shutting down...")
		shutdown(mitm, controlPlane, bundleWatcher)
		return nil
	}
}

// shutdownOnce makes shutdown re-entrant: a second signal or a late serve
// error must not double-close listeners.
var shutdownOnce sync.Once

// shutdown releases every owned resource in order: proxy listener first,
// then watcher, then the control plane (which clears timeouts and closes
// client sockets).
func shutdown(mitm *proxy.Server, controlPlane *hmr.Server, bundleWatcher *watcher.BundleWatcher) {
	shutdownOnce.Do(func() {
		if mitm != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mitm.Shutdown(ctx); err != nil {
				ui.PrintWarning("Proxy shutdown: %v", err)
			}
		}
		if bundleWatcher != nil {
			bundleWatcher.Close()
		}
		if controlPlane != nil {
			if err := controlPlane.Close(); err != nil {
				ui.PrintWarning("Control plane shutdown: %v", err)
			}
		}
	})
}

// confirmLaunch asks before starting a browser unless -y was given.
func confirmLaunch(cfg *config.Config) bool {
	if cfg.Yes {
		return true
	}
	fmt.Printf("Launch %s through the proxy? [Y/n] ", cfg.Browser)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "" || answer == "y" || answer == "yes"
}

// isAddrInUse matches the bind-conflict sentinels from both listeners.
func isAddrInUse(err error) bool {
	return errors.Is(err, proxy.ErrAddrInUse) || errors.Is(err, hmr.ErrAddrInUse)
}
