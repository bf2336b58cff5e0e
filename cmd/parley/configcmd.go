package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, okStyle.Render("✓ "+*configPath+" is valid"))
			fmt.Fprintln(out, boxStyle.Render(configSummary(cfg)))
			return nil
		},
	})
	return cmd
}

func configSummary(cfg *config.Config) string {
	s := headerStyle.Render("Parley configuration") + "\n"
	row := func(label, value string) {
		s += labelStyle.Render(label) + valueStyle.Render(value) + "\n"
	}
	row("Listen addr", cfg.Server.ListenAddr)
	row("LLM", providerLabel(cfg.Providers.LLM))
	row("STT", providerLabel(cfg.Providers.STT))
	row("TTS", providerLabel(cfg.Providers.TTS))
	row("Transcoder", cfg.Audio.Transcoder.Name)
	row("Language", cfg.Tutor.Language)
	if cfg.Archive.Driver == "" {
		row("Archive", "(disabled)")
	} else {
		row("Archive", cfg.Archive.Driver)
	}
	row("Idle timeout", cfg.Server.SessionIdleTimeout.String())
	return s[:len(s)-1]
}

func providerLabel(e config.ProviderEntry) string {
	v := e.Name
	if e.Model != "" {
		v += " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		v += fmt.Sprintf(" (+%d fallback)", n)
	}
	return v
}

func printStartupSummary(w io.Writer, cfg *config.Config, a *app.App) {
	summary := configSummary(cfg)
	caps := a.Gateway().Capabilities()
	if !caps.Transcoding {
		summary += "\n" + warnStyle.Render("transcoding unavailable: replies keep their synthesized format")
	}
	if !caps.LiveCapture {
		summary += "\n" + labelStyle.Render("Live capture") + valueStyle.Render("off (uploads only)")
	}
	fmt.Fprintln(w, boxStyle.Render(summary))
}
