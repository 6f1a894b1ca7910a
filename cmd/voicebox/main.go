// Package main provides the entry point for the voicebox CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voicebox"
	"github.com/dgnsrekt/voicebox/engines"
	"github.com/dgnsrekt/voicebox/engines/piper"
	"github.com/dgnsrekt/voicebox/internal/mdtext"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	engineFlag  string
	voiceFlag   string
	rateFlag    float64
	pitchFlag   float64
	volumeFlag  float64
	filePath    string
	interrupt   bool
	wait        bool
	includeCode bool
	debug       bool

	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1A8F60", Dark: "#22C78A"}).Render

	rootCmd = &cobra.Command{
		Use:   "voicebox [text...]",
		Short: "Speak text from the command line",
		Long: paragraph(
			fmt.Sprintf("\nSpeak text, markdown files or piped input %s with the synthesis engine of your choice.", keyword("out loud")),
		),
		Example:          paragraph("voicebox \"dinner is ready\"\nvoicebox --file notes.md --engine piper\ngit log -1 --format=%s | voicebox"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// hostEnv is configuration taken straight from the host environment, under
// the variable names piper users already export for other tools.
type hostEnv struct {
	PiperBinary string `env:"PIPER_BIN"`
	PiperModel  string `env:"PIPER_MODEL"`
}

// expandPath resolves a leading tilde and any environment variables in user
// supplied paths.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if s, err := homedir.Expand(path); err == nil {
		path = s
	}
	return os.ExpandEnv(path)
}

// cacheDir resolves the directory synthesized audio is cached under. The
// engines keep their caches in memory when no directory is configured, so
// the CLI always supplies one; otherwise nothing would survive between runs.
func cacheDir() string {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return expandPath(dir)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "voicebox")
	}
	return filepath.Join(base, "voicebox")
}

// buildEngineConfig assembles per-engine settings from viper and the host
// environment. Flags and VOICEBOX_* variables take precedence over the
// config file, which takes precedence over ambient conventions like
// PIPER_MODEL.
func buildEngineConfig() (engines.Config, error) {
	host, err := env.ParseAs[hostEnv]()
	if err != nil {
		return engines.Config{}, fmt.Errorf("unable to parse environment: %w", err)
	}

	cfg := engines.Config{CacheDir: cacheDir()}

	cfg.Piper.Binary = viper.GetString("piper.binary")
	if cfg.Piper.Binary == "" {
		cfg.Piper.Binary = host.PiperBinary
	}
	cfg.Piper.SampleRate = viper.GetInt("piper.sample_rate")
	models := viper.GetStringSlice("piper.models")
	if len(models) == 0 && host.PiperModel != "" {
		models = []string{host.PiperModel}
	}
	for _, m := range models {
		cfg.Piper.Models = append(cfg.Piper.Models, piper.Model{Path: expandPath(m)})
	}

	cfg.Google.LanguageCode = viper.GetString("google.language")
	cfg.Google.VoiceName = viper.GetString("google.voice")
	cfg.Google.RequestsPerMinute = viper.GetInt("google.requests_per_minute")

	return cfg, nil
}

// newSpeech constructs the configured engine behind the validating facade.
func newSpeech() (*voicebox.Speech, error) {
	name, err := engines.Parse(viper.GetString("engine"))
	if err != nil {
		return nil, err
	}
	cfg, err := buildEngineConfig()
	if err != nil {
		return nil, err
	}
	return engines.New(name, cfg)
}

// resolveVoice finds a voice by id or name, case folded.
func resolveVoice(s *voicebox.Speech, want string) (*voicebox.Voice, error) {
	voices, err := s.Voices()
	if err != nil {
		return nil, err
	}
	for i, v := range voices {
		if strings.EqualFold(v.ID, want) || strings.EqualFold(v.Name, want) {
			return &voices[i], nil
		}
	}
	return nil, fmt.Errorf("no voice matching %q (run: voicebox voices)", want)
}

// applySpeechOptions pushes the voice, rate, pitch and volume settings the
// user actually provided. Settings left alone keep the engine's defaults,
// so an engine without pitch control only fails when pitch was asked for.
func applySpeechOptions(s *voicebox.Speech) error {
	if want := viper.GetString("voice"); want != "" {
		v, err := resolveVoice(s, want)
		if err != nil {
			return err
		}
		if err := s.SetVoice(*v); err != nil {
			return err
		}
	}
	if viper.IsSet("rate") {
		if err := s.SetRate(viper.GetFloat64("rate")); err != nil {
			return err
		}
	}
	if viper.IsSet("pitch") {
		if err := s.SetPitch(viper.GetFloat64("pitch")); err != nil {
			return err
		}
	}
	if viper.IsSet("volume") {
		if err := s.SetVolume(viper.GetFloat64("volume")); err != nil {
			return err
		}
	}
	return nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// extractOptions builds the markdown extraction options from flags.
func extractOptions() mdtext.Options {
	opts := mdtext.DefaultOptions()
	opts.IncludeCode = includeCode
	return opts
}

// gatherText turns the invocation into the list of sentences to speak.
// A --file wins over arguments, arguments win over piped stdin. File and
// stdin input is treated as markdown; arguments are spoken as plain prose.
func gatherText(args []string) ([]string, error) {
	switch {
	case filePath != "":
		data, err := os.ReadFile(expandPath(filePath))
		if err != nil {
			return nil, fmt.Errorf("unable to read file: %w", err)
		}
		return mdtext.Extract(string(data), extractOptions())

	case len(args) > 0:
		text := mdtext.Normalize(strings.Join(args, " "))
		return mdtext.SplitSentences(text), nil

	default:
		pipe, err := stdinIsPipe()
		if err != nil {
			return nil, err
		}
		if !pipe {
			return nil, errors.New("nothing to speak: pass text as arguments, pipe it in, or use --file")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("unable to read stdin: %w", err)
		}
		return mdtext.Extract(string(data), extractOptions())
	}
}

func execute(cmd *cobra.Command, args []string) error {
	sentences, err := gatherText(args)
	if err != nil {
		return err
	}
	if len(sentences) == 0 {
		return errors.New("nothing speakable found in the input")
	}

	s, err := newSpeech()
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	if err := applySpeechOptions(s); err != nil {
		return err
	}
	return speak(s, sentences)
}

// speak queues every sentence in order and, unless --wait=false, blocks
// until the engine has finished with all of them or the user hits ctrl-c.
func speak(s *voicebox.Speech, sentences []string) error {
	// Each utterance terminates with exactly one end or stop event, so the
	// channel buffer makes the callbacks non-blocking.
	pending := make(map[voicebox.UtteranceID]bool, len(sentences))
	finished := make(chan voicebox.UtteranceID, len(sentences))
	if wait {
		notify := func(id voicebox.UtteranceID) { finished <- id }
		if err := s.SetOnUtteranceEnd(notify); err != nil {
			return err
		}
		if err := s.SetOnUtteranceStop(notify); err != nil {
			return err
		}
	}

	for i, text := range sentences {
		id, err := s.Speak(text, interrupt && i == 0)
		if err != nil {
			return fmt.Errorf("unable to speak: %w", err)
		}
		if id == nil {
			// No correlation id means nothing to wait on either.
			continue
		}
		log.Debug("queued", "utterance", *id, "chars", len(text))
		pending[*id] = true
	}
	if !wait {
		return nil
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)

	for len(pending) > 0 {
		select {
		case id := <-finished:
			delete(pending, id)
		case <-sigc:
			log.Debug("interrupted, stopping playback")
			return s.Stop()
		}
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	// An explicit --config replaces whatever the default places provided.
	if configFile != "" && cmd.Name() != "config" {
		viper.SetConfigFile(expandPath(configFile))
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config %s: %w", configFile, err)
		}
	}

	if _, err := engines.Parse(viper.GetString("engine")); err != nil {
		return err
	}
	return nil
}

// setupLog routes logging to VOICEBOX_LOGFILE when set, keeping stderr
// clean for the terminal. Returns a closer for the log sink.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(false)
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		log.SetFormatter(log.LogfmtFormatter)
	}
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	if file := os.Getenv("VOICEBOX_LOGFILE"); file != "" {
		f, err := os.OpenFile(expandPath(file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		log.SetOutput(f)
		log.SetFormatter(log.LogfmtFormatter)
		log.SetReportTimestamp(true)
		return f.Close, nil
	}
	return func() error { return nil }, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVarP(&engineFlag, "engine", "e", "", "engine to speak with (auto, say, piper, google, mock)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")
	rootCmd.Flags().StringVar(&voiceFlag, "voice", "", "voice to speak with (see: voicebox voices)")
	rootCmd.Flags().Float64VarP(&rateFlag, "rate", "r", 1.0, "speaking rate multiplier")
	rootCmd.Flags().Float64Var(&pitchFlag, "pitch", 0, "pitch adjustment, in the engine's units")
	rootCmd.Flags().Float64Var(&volumeFlag, "volume", 0, "playback volume, in the engine's units")
	rootCmd.Flags().StringVarP(&filePath, "file", "f", "", "speak a markdown file")
	rootCmd.Flags().BoolVarP(&interrupt, "interrupt", "i", false, "cut off anything already speaking before starting")
	rootCmd.Flags().BoolVar(&wait, "wait", true, "wait for playback to finish before exiting")
	rootCmd.Flags().BoolVar(&includeCode, "include-code", false, "speak code spans and blocks too")

	// Config bindings
	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("pitch", rootCmd.Flags().Lookup("pitch"))
	_ = viper.BindPFlag("volume", rootCmd.Flags().Lookup("volume"))

	viper.SetDefault("engine", "auto")
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("piper.binary", "")
	viper.SetDefault("piper.sample_rate", 22050)
	viper.SetDefault("google.language", "en-US")
	viper.SetDefault("google.requests_per_minute", 60)

	rootCmd.AddCommand(voicesCmd, cacheCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "voicebox")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find the configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "voicebox")}, dirs...)
	}

	if c := os.Getenv("VOICEBOX_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("voicebox")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("voicebox")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.Debug("Configuration changed", "file", e.Name, "op", e.Op.String())
		})
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "voicebox.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
