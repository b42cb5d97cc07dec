package tray

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
)

func weightTitle(reading devices.Reading, seen bool) string {
	if !seen {
		return "Peso: --"
	}
	title := fmt.Sprintf("Peso: %.2f kg", reading.Weight)
	if reading.Stale {
		title += " (sin datos nuevos)"
	}
	return title
}

func statusTitle(status devices.Status) string {
	if status.Connected {
		return fmt.Sprintf("Conectada: %s @ %d", status.Port, status.BaudRate)
	}
	if status.LastError != nil && *status.LastError != "" {
		return "Desconectada: " + *status.LastError
	}
	if status.Port == "" {
		return "Desconectada"
	}
	return "Desconectada: " + status.Port
}

func tooltip(reading devices.Reading, status devices.Status) string {
	state := "desconectada"
	if status.Connected {
		state = "conectada"
	}
	return fmt.Sprintf("BalanzaAgent - %.2f kg (%s)", reading.Weight, state)
}

// generateIcon draws a size x size PNG: a teal platform scale on white.
func generateIcon(size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	white := color.RGBA{255, 255, 255, 255}
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.SetRGBA(x, y, white)
		}
	}

	teal := color.RGBA{0, 128, 128, 255}
	margin := size / 8

	// platform
	top := size / 3
	for x := margin; x < size-margin; x++ {
		img.SetRGBA(x, top, teal)
		img.SetRGBA(x, top+1, teal)
	}

	// column
	mid := size / 2
	for y := top + 2; y < size-margin-2; y++ {
		img.SetRGBA(mid-1, y, teal)
		img.SetRGBA(mid, y, teal)
	}

	// base
	for x := margin + 1; x < size-margin-1; x++ {
		for y := size - margin - 2; y < size-margin; y++ {
			img.SetRGBA(x, y, teal)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
