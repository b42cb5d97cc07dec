package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/NowakAdmin/BalanzaAgent/internal/agent"
	"github.com/NowakAdmin/BalanzaAgent/internal/config"
	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
	"github.com/NowakAdmin/BalanzaAgent/internal/server"
	"github.com/NowakAdmin/BalanzaAgent/internal/setup"
	"github.com/NowakAdmin/BalanzaAgent/internal/tray"
	"github.com/NowakAdmin/BalanzaAgent/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "configure":
			runConfigure(os.Args[2:])
			return
		case "headless":
			runHeadless()
			return
		case "ports":
			os.Exit(runPorts(os.Stdout))
		case "monitor":
			os.Exit(runMonitor(os.Args[2:]))
		case "detect":
			os.Exit(runDetect(os.Args[2:]))
		case "version":
			fmt.Printf("BalanzaAgent %s\n", version.Version)
			return
		case "tray":
		default:
			fmt.Fprintf(os.Stderr, "Subcomando desconocido: %s\n", os.Args[1])
			fmt.Fprintln(os.Stderr, "Uso: balanza-agent [tray|headless|configure|ports|monitor|detect|version]")
			os.Exit(2)
		}
	}

	runTray()
}

func runConfigure(args []string) {
	cfg, err := config.LoadOrCreateDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error al leer la configuración: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	serverURL := fs.String("server", cfg.ServerURL, "URL base de la API, p. ej. https://pos.example.com")
	wsURL := fs.String("ws", cfg.WebSocketURL, "URL WebSocket del agente")
	agentID := fs.String("agent-id", cfg.AgentID, "ID del agente")
	token := fs.String("token", cfg.AgentToken, "Token API del agente")
	tenantID := fs.String("tenant-id", cfg.TenantID, "Tenant ID opcional")
	deviceName := fs.String("name", cfg.DeviceName, "Nombre visible del agente")
	listen := fs.String("listen", cfg.HTTP.Listen, "Dirección del servidor HTTP local (vacío lo desactiva)")
	port := fs.String("port", cfg.Scale.Port, "Puerto serie de la balanza, p. ej. COM1 o /dev/ttyUSB0")
	baud := fs.Int("baud", cfg.Scale.BaudRate, "Velocidad en baudios")
	protocol := fs.String("protocol", cfg.Scale.Protocol, "Protocolo: CONTINUO, TOLEDO, AND, OHAUS, METTLER, CAS, DIBAL, DIGI, GAMA, ESTANDAR")
	dtr := fs.Bool("dtr", cfg.Scale.EnableDTR, "Activar DTR")
	rts := fs.Bool("rts", cfg.Scale.EnableRTS, "Activar RTS")
	githubRepo := fs.String("github-repo", cfg.Update.GitHubRepo, "Repositorio para actualizaciones, p. ej. NowakAdmin/BalanzaAgent")
	checkHours := fs.Int("update-hours", cfg.Update.CheckIntervalHours, "Cada cuántas horas buscar actualizaciones")

	_ = fs.Parse(args)

	cfg.ServerURL = *serverURL
	cfg.WebSocketURL = *wsURL
	cfg.AgentID = *agentID
	cfg.AgentToken = *token
	cfg.TenantID = *tenantID
	cfg.DeviceName = *deviceName
	cfg.HTTP.Listen = *listen
	cfg.Scale.Port = *port
	cfg.Scale.BaudRate = *baud
	cfg.Scale.Protocol = *protocol
	cfg.Scale.EnableDTR = *dtr
	cfg.Scale.EnableRTS = *rts
	cfg.Update.GitHubRepo = *githubRepo
	cfg.Update.CheckIntervalHours = *checkHours

	if err := cfg.Scale.ScaleConfig().Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuración de balanza inválida: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error al guardar la configuración: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuración guardada: %s\n", config.Path())
}

// stack is the scale reader with everything hanging off it.
type stack struct {
	cfg    *config.Config
	logger *logrus.Logger
	reader *devices.Reader
	poller *devices.Poller
	agent  *agent.Agent
	server *server.Server
}

func newStack(cfg *config.Config, logger *logrus.Logger) *stack {
	opts := cfg.Scale.ReaderOptions()
	opts.Observer = devices.LogObserver(logger)
	opts.Store = config.NewStore(config.Path())

	reader := devices.NewReader(nil, opts)
	scaleCfg := cfg.Scale.ScaleConfig()
	if reader.Connect(scaleCfg) {
		logger.WithFields(logrus.Fields{
			"port":      scaleCfg.Port,
			"baud_rate": scaleCfg.BaudRate,
			"protocol":  scaleCfg.Protocol.String(),
		}).Info("balanza conectada")
	}

	poller := devices.NewPoller(reader, cfg.Scale.PollInterval())

	a := agent.New(cfg, reader, logger)
	a.Readings, _ = poller.Subscribe(8)

	return &stack{
		cfg:    cfg,
		logger: logger,
		reader: reader,
		poller: poller,
		agent:  a,
		server: server.New(reader, logger),
	}
}

// serve runs the local HTTP surface until ctx ends. It returns a func
// that waits for the server to stop.
func (s *stack) serve(ctx context.Context) func() {
	var wg sync.WaitGroup
	if s.cfg.HTTP.Listen == "" {
		return wg.Wait
	}

	readings, unsubscribe := s.poller.Subscribe(8)

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.server.Forward(ctx, readings)
	}()
	go func() {
		defer wg.Done()
		defer unsubscribe()
		if err := s.server.ListenAndServe(ctx, s.cfg.HTTP.Listen); err != nil {
			s.logger.WithError(err).Error("el servidor HTTP se detuvo")
		}
	}()

	return wg.Wait
}

func runHeadless() {
	cfg, err := config.LoadOrCreateDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error de configuración: %v\n", err)
		os.Exit(1)
	}

	logger, closeFn, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error del logger: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	s := newStack(cfg, logger)
	defer s.reader.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := s.poller.Start(ctx); err != nil {
		logger.WithError(err).Fatal("no se pudo iniciar el sondeo")
	}
	wait := s.serve(ctx)

	if err := s.agent.Start(ctx); err != nil {
		logger.WithError(err).Fatal("no se pudo iniciar el agente")
	}

	<-ctx.Done()
	s.agent.Stop()
	s.poller.Stop()
	wait()
}

func runTray() {
	if setup.IsFirstRun() {
		if err := setup.MoveToAppData(); err == nil {
			setup.RestartApp(setup.InstalledPath())
			return
		}
	}
	_ = setup.VerifyAutostart()

	cfg, err := config.LoadOrCreateDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error de configuración: %v\n", err)
		os.Exit(1)
	}

	logger, closeFn, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error del logger: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	s := newStack(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	wait := s.serve(ctx)

	t := tray.New(cfg, s.reader, s.poller, s.agent, logger)
	t.OnExit = func() {
		cancel()
		wait()
	}
	t.Run()
}

func buildLogger(cfg config.LogConfig) (*logrus.Logger, func(), error) {
	logPath := filepath.Join(config.LogDir(), "agent.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	logger := logrus.New()
	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger, func() {
		_ = rotator.Close()
	}, nil
}
