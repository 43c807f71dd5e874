package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/config"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/book-expert/milora-tts/internal/tts"
	"github.com/book-expert/milora-tts/internal/tts/audio"
	"github.com/book-expert/milora-tts/internal/tts/ttsutils"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Flag descriptions and messages.
const (
	flagOutputDesc     = "Output file path (.wav), or output directory with --chunks"
	flagChunksDesc     = "JSON file containing an array of text chunks to speak"
	flagConfigDesc     = "Path to a TOML config file (defaults are used when omitted)"
	flagVerboseDesc    = "Enable verbose logging"
	flagTextDesc       = "Text to convert to speech"
	flagCacheLimitDesc = "Set the number of cached clips to keep (negative leaves it unchanged)"
	flagClearCacheDesc = "Delete every cached clip"
	flagLanguagesDesc  = "List supported languages and features and exit"
)

// Flag names.
const (
	flagText       = "text"
	flagOutput     = "output"
	flagChunks     = "chunks"
	flagConfig     = "config"
	flagVerbose    = "verbose"
	flagCacheLimit = "cache-limit"
	flagClearCache = "clear-cache"
	flagLanguages  = "languages"
)

// Error messages.
const (
	errNothingToDo       = "one of --text, --chunks, --cache-limit, --clear-cache or --languages must be provided"
	errCannotSpecifyBoth = "cannot specify both --text and --chunks"
)

// Log and output messages.
const (
	logProcessingSingleText = "Processing single text to: %s"
	logProcessingChunks     = "Processing %d chunks from %s into %s"
	logGenerated            = "Generated: %s (%s, %s)\n"
	logNothingToSpeak       = "Nothing to speak in chunk %d, skipped\n"
	logCacheLimit           = "Cache limit: %d\n"
	logCacheCleared         = "Cleared %d cached clip(s)\n"
)

// File names and paths.
const (
	logFileNameDefault = "tts-client.log"
	logFileNameVerbose = "tts-client-verbose.log"
	defaultOutputFile  = "output.wav"
	defaultChunksDir   = "."
	chunkFileFormat    = "chunk_%04d.wav"
	noCacheLimitChange = -1
)

var (
	errNoAction    = errors.New(errNothingToDo)
	errBothInputs  = errors.New(errCannotSpecifyBoth)
	errEmptyChunks = errors.New("no chunks found")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text       string
	output     string
	chunks     string
	config     string
	cacheLimit int
	clearCache bool
	languages  bool
	verbose    bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run() error {
	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	if flags.languages {
		printLanguages(os.Stdout)

		return nil
	}

	_ = godotenv.Load()

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return err
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	appLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = appLog.Close() }()

	service, err := tts.NewService(cfg, appLog, telemetry.Default())
	if err != nil {
		return fmt.Errorf("failed to create synthesis service: %w", err)
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return execute(ctx, service, appLog, flags)
}

// parseFlags parses args into appFlags.
func parseFlags(args []string, output io.Writer) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("go-client", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.IntVar(&flags.cacheLimit, flagCacheLimit, noCacheLimitChange, flagCacheLimitDesc)
	flagSet.BoolVar(&flags.clearCache, flagClearCache, false, flagClearCacheDesc)
	flagSet.BoolVar(&flags.languages, flagLanguages, false, flagLanguagesDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags rejects missing and conflicting arguments.
func validateFlags(flags appFlags) error {
	if flags.text != "" && flags.chunks != "" {
		return errBothInputs
	}

	if flags.text == "" && flags.chunks == "" && !flags.clearCache && !flags.languages &&
		flags.cacheLimit < 0 {
		return errNoAction
	}

	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()

		return cfg, cfg.Validate()
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func printLanguages(out io.Writer) {
	_, _ = fmt.Fprintf(out, "Languages: %s\n", strings.Join(tts.Languages(), ", "))
	_, _ = fmt.Fprintf(out, "Features: %s\n", strings.Join(tts.Features(), ", "))
}

// execute runs the cache maintenance requests first, then synthesis.
func execute(ctx context.Context, service *tts.Service, appLog *logger.Logger, flags appFlags) error {
	if flags.cacheLimit >= 0 {
		err := service.SetCacheLimit(flags.cacheLimit)
		if err != nil {
			return err
		}

		fmt.Printf(logCacheLimit, service.CacheLimit())
	}

	if flags.clearCache {
		result := <-service.ClearCache()
		if result.Err != nil {
			return fmt.Errorf("failed to clear cache: %w", result.Err)
		}

		fmt.Printf(logCacheCleared, result.Deleted)
	}

	if flags.text != "" {
		outputPath := flags.output
		if outputPath == "" {
			outputPath = defaultOutputFile
		}

		appLog.Info(logProcessingSingleText, outputPath)

		_, err := synthesizeToFile(ctx, service, flags.text, outputPath)

		return err
	}

	if flags.chunks != "" {
		return processChunks(ctx, service, appLog, flags.chunks, flags.output)
	}

	return nil
}

// processChunks speaks every chunk in order, one WAV file per chunk.
func processChunks(
	ctx context.Context,
	service *tts.Service,
	appLog *logger.Logger,
	chunksPath, outputDir string,
) error {
	chunks, err := readChunks(chunksPath)
	if err != nil {
		return err
	}

	if outputDir == "" {
		outputDir = defaultChunksDir
	}

	appLog.Info(logProcessingChunks, len(chunks), chunksPath, outputDir)

	for index, chunk := range chunks {
		written, err := synthesizeToFile(ctx, service, chunk, chunkOutputPath(outputDir, index))
		if err != nil {
			return fmt.Errorf("chunk %d: %w", index+1, err)
		}

		if !written {
			fmt.Printf(logNothingToSpeak, index+1)
		}
	}

	return nil
}

// readChunks reads a JSON array of strings.
func readChunks(chunksPath string) ([]string, error) {
	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", errEmptyChunks, chunksPath)
	}

	return chunks, nil
}

func chunkOutputPath(outputDir string, index int) string {
	return filepath.Join(outputDir, fmt.Sprintf(chunkFileFormat, index+1))
}

// synthesizeToFile speaks text into a WAV file at outputPath. It reports
// false, without creating a file, when the text has nothing to speak.
func synthesizeToFile(ctx context.Context, service *tts.Service, text, outputPath string) (bool, error) {
	recorder := audio.NewRecorder(0)

	err := service.Synthesize(ctx, text, recorder)
	if err != nil {
		return false, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	err = recorder.Err()
	if err != nil {
		return false, err
	}

	if _, started := recorder.Format(); !started {
		return false, nil
	}

	err = ttsutils.EnsureDir(filepath.Dir(outputPath))
	if err != nil {
		return false, err
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", outputPath, err)
	}

	err = recorder.WriteWAV(file)

	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		return false, fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", outputPath, err)
	}

	fmt.Printf(logGenerated, outputPath, recorder.Duration(), humanize.Bytes(uint64(info.Size())))

	return true, nil
}
