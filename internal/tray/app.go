package tray

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"

	"github.com/NowakAdmin/BalanzaAgent/internal/agent"
	"github.com/NowakAdmin/BalanzaAgent/internal/autostart"
	"github.com/NowakAdmin/BalanzaAgent/internal/config"
	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
	"github.com/NowakAdmin/BalanzaAgent/internal/update"
	"github.com/NowakAdmin/BalanzaAgent/internal/version"
)

// Scale is what the tray needs from the reader.
type Scale interface {
	Connect(cfg devices.ScaleConfig) bool
	Close()
	Config() devices.ScaleConfig
	Status() devices.Status
	TestConnection(ctx context.Context) devices.ProbeResult
	ClearLog()
}

// Poller is the background read loop feeding the weight item.
type Poller interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(buffer int) (<-chan devices.Reading, func())
}

type App struct {
	cfg    *config.Config
	scale  Scale
	poller Poller
	agent  *agent.Agent
	logger logrus.FieldLogger

	// OnExit runs after the menu loop stops, e.g. to stop the HTTP server.
	OnExit func()
}

func New(cfg *config.Config, scale Scale, poller Poller, agentInstance *agent.Agent, logger logrus.FieldLogger) *App {
	return &App{
		cfg:    cfg,
		scale:  scale,
		poller: poller,
		agent:  agentInstance,
		logger: logger.WithField("module", "tray"),
	}
}

func (a *App) Run() {
	systray.Run(a.onReady, a.onExit)
}

func (a *App) onReady() {
	systray.SetIcon(generateIcon(16))
	systray.SetTitle("Balanza")
	systray.SetTooltip("BalanzaAgent - lectura de balanza")

	weightItem := systray.AddMenuItem(weightTitle(devices.Reading{}, false), "Último peso leído")
	weightItem.Disable()
	statusItem := systray.AddMenuItem(statusTitle(a.scale.Status()), "Estado de la balanza")
	statusItem.Disable()

	systray.AddSeparator()
	reconnect := systray.AddMenuItem("Reconectar", "Volver a abrir el puerto serie")
	probe := systray.AddMenuItem("Probar conexión", "Leer una trama de la balanza")
	clearLog := systray.AddMenuItem("Limpiar registro", "Vaciar el registro de tramas")

	systray.AddSeparator()
	start := systray.AddMenuItem("Conectar agente", "Conectar con el servidor")
	stop := systray.AddMenuItem("Desconectar agente", "Desconectar del servidor")
	stop.Disable()

	autostartItem := systray.AddMenuItemCheckbox("Inicio automático (Windows)", "Iniciar al iniciar sesión", false)
	enabled, err := autostart.IsEnabled(autostart.AppName)
	if err == nil && enabled {
		autostartItem.Check()
	}

	updateItem := systray.AddMenuItem("Buscar actualizaciones", "Buscar una versión más reciente")
	versionItem := systray.AddMenuItem("Versión: "+version.Version, "Versión del agente")
	versionItem.Disable()

	systray.AddSeparator()
	quit := systray.AddMenuItem("Salir", "Cerrar BalanzaAgent")

	ctx := context.Background()
	readings, unsubscribe := a.poller.Subscribe(4)
	if err := a.poller.Start(ctx); err != nil {
		a.logger.WithError(err).Warn("no se pudo iniciar el sondeo")
	}

	if a.agent.Start(ctx) == nil {
		start.Disable()
		stop.Enable()
	}

	updateEvery := time.Duration(a.cfg.Update.CheckIntervalHours) * time.Hour
	if updateEvery <= 0 {
		updateEvery = 6 * time.Hour
	}
	updateTicker := time.NewTicker(updateEvery)

	go func() {
		defer updateTicker.Stop()
		defer unsubscribe()

		for {
			select {
			case reading := <-readings:
				weightItem.SetTitle(weightTitle(reading, true))
				statusItem.SetTitle(statusTitle(a.scale.Status()))
				systray.SetTooltip(tooltip(reading, a.scale.Status()))

			case <-reconnect.ClickedCh:
				a.poller.Stop()
				cfg := a.scale.Config()
				if !a.scale.Connect(cfg) {
					a.logger.WithField("port", cfg.Port).Warn("reconexión fallida")
				}
				statusItem.SetTitle(statusTitle(a.scale.Status()))
				if err := a.poller.Start(ctx); err != nil {
					a.logger.WithError(err).Warn("no se pudo iniciar el sondeo")
				}

			case <-probe.ClickedCh:
				a.poller.Stop()
				probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				res := a.scale.TestConnection(probeCtx)
				cancel()
				a.logger.WithFields(logrus.Fields{
					"success": res.Success,
					"weight":  res.Weight,
				}).Info(res.Message)
				statusItem.SetTitle(res.Message)
				_ = a.poller.Start(ctx)

			case <-clearLog.ClickedCh:
				a.scale.ClearLog()

			case <-start.ClickedCh:
				if a.agent.IsRunning() {
					continue
				}

				if startErr := a.agent.Start(ctx); startErr != nil {
					a.logger.WithError(startErr).Warn("no se pudo iniciar el agente")
					continue
				}

				start.Disable()
				stop.Enable()

			case <-stop.ClickedCh:
				a.agent.Stop()
				start.Enable()
				stop.Disable()

			case <-autostartItem.ClickedCh:
				if autostartItem.Checked() {
					if disableErr := autostart.Disable(autostart.AppName); disableErr != nil {
						a.logger.WithError(disableErr).Warn("no se pudo desactivar el inicio automático")
						continue
					}
					autostartItem.Uncheck()
					continue
				}

				executablePath, pathErr := os.Executable()
				if pathErr != nil {
					a.logger.WithError(pathErr).Warn("ruta del ejecutable desconocida")
					continue
				}

				if enableErr := autostart.Enable(autostart.AppName, executablePath); enableErr != nil {
					a.logger.WithError(enableErr).Warn("no se pudo activar el inicio automático")
					continue
				}

				autostartItem.Check()

			case <-updateItem.ClickedCh:
				a.checkUpdate(true)

			case <-updateTicker.C:
				a.checkUpdate(false)

			case <-quit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

// checkUpdate looks for a newer release. When the user asked and the
// platform supports it, the new binary is installed and the app restarts.
func (a *App) checkUpdate(interactive bool) {
	checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	result, err := update.Check(checkCtx, a.cfg.Update.GitHubRepo, version.Version)
	cancel()

	if err != nil {
		a.logger.WithError(err).Warn("error al buscar actualizaciones")
		return
	}

	if !result.HasUpdate {
		if interactive {
			a.logger.Info("no hay una versión más reciente")
		}
		return
	}

	a.logger.WithFields(logrus.Fields{"version": result.Version, "url": result.URL}).Info("actualización disponible")
	if !interactive {
		return
	}

	if runtime.GOOS != "windows" {
		_ = openURL(result.URL)
		return
	}

	downloadCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	path, _, err := update.DownloadLatestWindowsAsset(downloadCtx, a.cfg.Update.GitHubRepo)
	cancel()
	if err != nil {
		a.logger.WithError(err).Warn("no se pudo descargar la actualización")
		_ = openURL(result.URL)
		return
	}

	if err := update.StartSelfUpdate(path); err != nil {
		a.logger.WithError(err).Warn("no se pudo aplicar la actualización")
		return
	}
	systray.Quit()
}

func (a *App) onExit() {
	a.poller.Stop()
	a.agent.Stop()
	a.scale.Close()
	if a.OnExit != nil {
		a.OnExit()
	}
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
