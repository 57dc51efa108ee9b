package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	tokenizers "github.com/wippyai/go-tokenizers"
	"github.com/wippyai/go-tokenizers/config"
)

type options struct {
	configPath  string
	backend     string
	libPath     string
	wasmPath    string
	modelDir    string
	model       string
	file        string
	revision    string
	token       string
	noSpecial   bool
	keepSpecial bool
	format      string
	interactive bool
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(o *options, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("tokenize", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configPath, "config", "", "YAML config file (default $"+config.EnvConfig+")")
	fs.StringVar(&o.backend, "backend", "", "engine backend: auto, native, wasm or wordlevel")
	fs.StringVar(&o.libPath, "lib", "", "path to the tokenizers shared library")
	fs.StringVar(&o.wasmPath, "wasm", "", "path to the tokenizers wasm module")
	fs.StringVar(&o.modelDir, "model-dir", "", "directory of local tokenizer definitions")
	fs.StringVarP(&o.model, "model", "m", "", "pretrained model identifier")
	fs.StringVarP(&o.file, "file", "f", "", "tokenizer definition file (.json, .gz, .zst, .lz4)")
	fs.StringVar(&o.revision, "revision", "", "model revision (default main)")
	fs.StringVar(&o.token, "token", "", "access token for gated models")
	fs.BoolVar(&o.noSpecial, "no-special", false, "encode without special tokens")
	fs.BoolVar(&o.keepSpecial, "keep-special", false, "keep special tokens when decoding (default from decode.skip_special_tokens)")
	fs.StringVar(&o.format, "format", "text", "encode output: text, json or cbor")
	fs.BoolVarP(&o.interactive, "interactive", "i", false, "interactive mode with TUI")
	fs.Usage = func() {
		fmt.Fprintln(out, "Usage: tokenize [flags] encode [text...]")
		fmt.Fprintln(out, "       tokenize [flags] decode <id>...")
		fmt.Fprintln(out, "       tokenize [flags] inspect [text...]")
		fmt.Fprintln(out, "       tokenize [flags] -i  (interactive mode)")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Text is read from stdin when none is given and stdin is not a terminal.")
		fmt.Fprintln(out)
		fs.PrintDefaults()
	}
	return fs
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var o options
	fs := newFlagSet(&o, stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.model == "" && o.file == "" {
		fs.Usage()
		return fmt.Errorf("one of --model or --file is required")
	}

	cfg, err := loadConfig(&o)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	tokenizers.SetLogger(logger)

	rt, err := tokenizers.Open(ctx, cfg, tokenizers.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer rt.Close()

	tok, err := load(ctx, rt, &o)
	if err != nil {
		return err
	}
	defer tok.Close()
	logger.Debug("tokenizer loaded", zap.Stringer("source", tok.Source()))

	if o.interactive {
		if !isTerminal(os.Stdout) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(ctx, tok, encodeOptions(&o))
	}

	switch o.format {
	case "text", "json", "cbor":
	default:
		return fmt.Errorf("unknown format %q (use text, json or cbor)", o.format)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	switch rest[0] {
	case "encode":
		text, err := inputText(rest[1:], stdin)
		if err != nil {
			return err
		}
		return encode(ctx, stdout, tok, text, &o)
	case "decode":
		ids, err := parseIDs(rest[1:])
		if err != nil {
			return err
		}
		return decode(ctx, stdout, tok, ids, &o)
	case "inspect":
		text, err := inputText(rest[1:], stdin)
		if err != nil {
			return err
		}
		return inspect(ctx, stdout, rt, tok, text, &o)
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func loadConfig(o *options) (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.libPath != "" {
		cfg.LibraryPath = o.libPath
	}
	if o.wasmPath != "" {
		cfg.WasmModule = o.wasmPath
	}
	if o.modelDir != "" {
		cfg.ModelDir = o.modelDir
	}
	return cfg, cfg.Validate()
}

func load(ctx context.Context, rt *tokenizers.Runtime, o *options) (*tokenizers.Tokenizer, error) {
	if o.file != "" {
		return rt.FromFile(ctx, o.file)
	}
	var opts []tokenizers.PretrainedOption
	if o.revision != "" {
		opts = append(opts, tokenizers.WithRevision(o.revision))
	}
	if o.token != "" {
		opts = append(opts, tokenizers.WithAuthToken(o.token))
	}
	return rt.FromPretrained(ctx, o.model, opts...)
}

func encodeOptions(o *options) []tokenizers.EncodeOption {
	if o.noSpecial {
		return []tokenizers.EncodeOption{tokenizers.WithoutSpecialTokens()}
	}
	return []tokenizers.EncodeOption{tokenizers.WithSpecialTokens()}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// inputText joins args, or reads stdin when there are none.
func inputText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && isTerminal(f) {
		return "", fmt.Errorf("no text given")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func parseIDs(args []string) ([]uint32, error) {
	var ids []uint32
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			v, err := strconv.ParseUint(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid token id %q", field)
			}
			ids = append(ids, uint32(v))
		}
	}
	return ids, nil
}

type encodeResult struct {
	IDs    []uint32 `json:"ids" cbor:"ids"`
	Tokens []string `json:"tokens" cbor:"tokens"`
}

// cborMode uses Core Deterministic Encoding so equal results encode to
// identical bytes.
var cborMode cbor.EncMode

func init() {
	var err error
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("tokenize: CBOR encoder initialization failed: " + err.Error())
	}
}

func encode(ctx context.Context, w io.Writer, tok *tokenizers.Tokenizer, text string, o *options) error {
	enc, err := tok.Encode(ctx, text, encodeOptions(o)...)
	if err != nil {
		return err
	}
	defer enc.Close()

	ids, err := enc.IDs()
	if err != nil {
		return err
	}
	tokens, err := enc.Tokens()
	if err != nil {
		return err
	}

	switch o.format {
	case "json":
		return json.NewEncoder(w).Encode(encodeResult{IDs: ids, Tokens: tokens})
	case "cbor":
		data, err := cborMode.Marshal(encodeResult{IDs: ids, Tokens: tokens})
		if err != nil {
			return fmt.Errorf("encode cbor: %w", err)
		}
		_, err = w.Write(data)
		return err
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
	return nil
}

func decode(ctx context.Context, w io.Writer, tok *tokenizers.Tokenizer, ids []uint32, o *options) error {
	var opts []tokenizers.DecodeOption
	if o.keepSpecial {
		opts = append(opts, tokenizers.KeepSpecialTokens())
	}
	text, err := tok.Decode(ctx, ids, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, text)
	return nil
}

func inspect(ctx context.Context, w io.Writer, rt *tokenizers.Runtime, tok *tokenizers.Tokenizer, text string, o *options) error {
	fmt.Fprintf(w, "Engine: %s\n", rt.Library().Name())
	fmt.Fprintf(w, "Source: %s (%s)\n", tok.Source(), tok.Source().Kind)
	if d := tok.Source().Digest; d != "" {
		fmt.Fprintf(w, "Digest: %s\n", d)
	}
	if text == "" {
		return nil
	}

	enc, err := tok.Encode(ctx, text, encodeOptions(o)...)
	if err != nil {
		return err
	}
	defer enc.Close()

	snap, err := enc.Snapshot()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Tokens: %d\n\n", snap.Len())

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tTOKEN\tTYPE\tSPECIAL\tATTN\tSPAN")
	for i := 0; i < snap.Len(); i++ {
		fmt.Fprintf(tw, "%d\t%d\t%q\t%d\t%d\t%d\t%d:%d\n",
			i, snap.IDs[i], snap.Tokens[i], snap.TypeIDs[i],
			snap.SpecialTokensMask[i], snap.AttentionMask[i],
			snap.Offsets[i].Start, snap.Offsets[i].End)
	}
	return tw.Flush()
}
