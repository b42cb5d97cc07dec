package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/NowakAdmin/BalanzaAgent/internal/config"
	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
)

func runPorts(out io.Writer) int {
	ports, err := devices.ListPortsChecked()
	if err != nil {
		fmt.Fprintf(os.Stderr, "No se pudieron enumerar los puertos: %v\n", err)
		return 1
	}

	if len(ports) == 0 {
		fmt.Fprintln(out, "No se encontraron puertos serie.")
		return 0
	}

	for _, p := range ports {
		fmt.Fprintf(out, "%-16s %-40s %s\n", p.Device, p.Description, p.Manufacturer)
	}
	return 0
}

// runMonitor opens the configured scale and prints every line with its
// parse decision until interrupted.
func runMonitor(args []string) int {
	cfg, err := config.LoadOrCreateDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error de configuración: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	port := fs.String("port", cfg.Scale.Port, "Puerto serie")
	baud := fs.Int("baud", cfg.Scale.BaudRate, "Velocidad en baudios")
	protocol := fs.String("protocol", cfg.Scale.Protocol, "Protocolo")
	changes := fs.Bool("changes", false, "Mostrar solo cambios de peso")
	_ = fs.Parse(args)

	if _, err := devices.ListPortsChecked(); err != nil {
		fmt.Fprintf(os.Stderr, "No se pudieron enumerar los puertos: %v\n", err)
		return 1
	}

	section := cfg.Scale
	section.Port = *port
	section.BaudRate = *baud
	section.Protocol = *protocol

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return monitor(ctx, os.Stdout, nil, section, *changes)
}

func monitor(ctx context.Context, out io.Writer, open devices.Opener, section config.ScaleSection, changesOnly bool) int {
	var last *float64

	opts := section.ReaderOptions()
	opts.Observer = devices.ObserverFuncs{
		OnWeight: func(line string, r devices.WeightReading) {
			if changesOnly {
				if last != nil && *last == r.Value {
					return
				}
				v := r.Value
				last = &v
			}
			fmt.Fprintf(out, "%s  %-28q %-12s %-10s %.3f kg\n",
				time.Now().Format("15:04:05.000"), line, r.Rule, r.Class, r.Value)
		},
		OnError: func(err error) {
			fmt.Fprintf(out, "%s  error: %v\n", time.Now().Format("15:04:05.000"), err)
		},
	}

	reader := devices.NewReader(open, opts)
	defer reader.Close()

	scaleCfg := section.ScaleConfig()
	interval := section.PollInterval()

	// A scale that is absent or still booting is retried every interval.
	for ctx.Err() == nil {
		connected := reader.State().Connected()
		if !connected {
			if connected = reader.Connect(scaleCfg); connected {
				fmt.Fprintf(out, "Escuchando %s @ %d (%s). Ctrl+C para salir.\n", scaleCfg.Port, scaleCfg.BaudRate, scaleCfg.Protocol)
			} else {
				fmt.Fprintf(out, "No se pudo abrir %s: %s. Reintentando...\n", scaleCfg.Port, lastError(reader.Status()))
			}
		}

		if connected {
			reader.ReadWeight(ctx)
		}

		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}
	return 0
}

func lastError(status devices.Status) string {
	if status.LastError == nil || *status.LastError == "" {
		return "sin detalle"
	}
	return *status.LastError
}

func runDetect(args []string) int {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	ports := fs.String("ports", "", "Puertos separados por comas (vacío: todos)")
	bauds := fs.String("bauds", "", "Baudios separados por comas (vacío: todos)")
	protocols := fs.String("protocols", "", "Protocolos separados por comas (vacío: todos)")
	window := fs.Duration("window", 4*time.Second, "Tiempo de escucha por combinación")
	apply := fs.Bool("apply", false, "Guardar la mejor combinación en la configuración")
	_ = fs.Parse(args)

	opts := devices.DetectOptions{
		Ports:     splitList(*ports),
		Protocols: splitList(*protocols),
		Window:    *window,
	}
	for _, b := range splitList(*bauds) {
		n, err := strconv.Atoi(b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Baudios inválidos: %q\n", b)
			return 2
		}
		opts.BaudRates = append(opts.BaudRates, n)
	}

	if len(opts.Ports) == 0 {
		found, err := devices.ListPortsChecked()
		if err != nil {
			fmt.Fprintf(os.Stderr, "No se pudieron enumerar los puertos: %v\n", err)
			return 1
		}
		if len(found) == 0 {
			fmt.Println("No se encontraron puertos serie.")
			return 0
		}
		for _, p := range found {
			opts.Ports = append(opts.Ports, p.Device)
		}
	}

	opts.Progress = func(done, total int, cfg devices.ScaleConfig) {
		fmt.Printf("\r[%d/%d] %s @ %d %s          ", done, total, cfg.Port, cfg.BaudRate, cfg.Protocol)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	candidates := devices.Detect(ctx, opts)
	fmt.Println()
	printCandidates(os.Stdout, candidates)

	if !*apply || len(candidates) == 0 {
		return 0
	}

	store := config.NewStore(config.Path())
	if err := store.SaveScaleConfig(candidates[0].Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error al guardar la configuración: %v\n", err)
		return 1
	}
	fmt.Printf("Configuración guardada en %s\n", store.Path())
	return 0
}

func printCandidates(out io.Writer, candidates []devices.Candidate) {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "No se detectó ninguna balanza.")
		return
	}

	for i, c := range candidates {
		fmt.Fprintf(out, "%d. %s @ %d %s DTR=%t RTS=%t  calidad %d  peso %.2f kg\n",
			i+1, c.Config.Port, c.Config.BaudRate, c.Config.Protocol, c.Config.DTR, c.Config.RTS, c.Quality, c.Weight)
		for _, line := range c.Lines {
			fmt.Fprintf(out, "     %q\n", line)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
