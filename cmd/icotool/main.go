package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/bmp"

	ico "github.com/antoinefink/icotool"
	"github.com/antoinefink/icotool/internal/peres"
	"github.com/antoinefink/icotool/transform"
)

var errUsage = errors.New("invalid arguments")

// config carries the global options into the commands.
type config struct {
	opts ico.Options
	mask ico.MaskRule
}

var maskRules = map[string]ico.MaskRule{
	"clear":  ico.MaskWhenClear,
	"opaque": ico.MaskUnlessOpaque,
}

func main() {
	ignorePNG := flag.Bool("ignore-png", false, "do not validate the directory fields of PNG entries")
	mask := flag.String("mask", "clear", "AND mask rule for written pixels (clear, opaque)")
	level := flag.String("log-level", envOr("ICOTOOL_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.Usage = func() { usage(flag.CommandLine.Output()) }
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		log.Fatal().Err(err).Str("level", *level).Msg("bad log level")
	}
	zerolog.SetGlobalLevel(lvl)

	rule, ok := maskRules[*mask]
	if !ok {
		log.Fatal().Str("mask", *mask).Msg("bad mask rule")
	}

	if flag.NArg() == 0 {
		usage(os.Stdout)
		return
	}

	out := bufio.NewWriter(os.Stdout)
	err = run(out, flag.Args(), config{opts: ico.Options{IgnorePNG: *ignorePNG}, mask: rule})
	if ferr := out.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		}
		log.Error().Err(err).Str("command", flag.Arg(0)).Send()
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s [options] <command> <args>

Options:
  -ignore-png         do not validate the directory fields of PNG entries
  -log-level level    debug, info, warn or error (default $ICOTOOL_LOG_LEVEL or info)
  -mask rule          clear: mask only fully transparent pixels written by
                      alphablend, grayscalealpha and recolor (default);
                      opaque: mask every pixel that is not fully opaque

Commands:
  list <src>                            list the images of an icon
  show <src> [n]                        draw image n in the terminal
  copy <dst.ico> <src>                  copy an icon
  alphablend <dst.ico> <src> <ico>...   alpha blend images of the same size over src
  grayscalealpha <dst.ico> <src>        turn the gray level into the alpha channel
  recolor <file.ico> <n> <from> <to>    replace colour from with to in image n
  extract <src> <dir>                   write every image as .png or .bmp

<src> is an icon file or an executable resource (file.exe,n or file.dll,n).
Colours are integers in 0xAARRGGBB form.
`, filepath.Base(os.Args[0]))
}

func run(w io.Writer, args []string, cfg config) error {
	opts := cfg.opts
	mask := ico.WithMaskRule(cfg.mask)
	cmd, args := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "list":
		if len(args) != 1 {
			return errUsage
		}
		return list(w, args[0], opts)

	case "show":
		if len(args) < 1 || len(args) > 2 {
			return errUsage
		}
		n := 0
		if len(args) == 2 {
			var err error
			if n, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("%w: icon number %q", errUsage, args[1])
			}
		}
		c, err := loadSource(args[0], opts)
		if err != nil {
			return err
		}
		e, err := entryAt(c, n)
		if err != nil {
			return err
		}
		return show(w, e)

	case "copy":
		if len(args) != 2 {
			return errUsage
		}
		c, err := loadSource(args[1], opts)
		if err != nil {
			return err
		}
		return c.Save(os.ExpandEnv(args[0]), opts)

	case "alphablend":
		if len(args) < 2 {
			return errUsage
		}
		c, err := loadSource(args[1], opts)
		if err != nil {
			return err
		}
		for _, path := range args[2:] {
			blend, err := ico.LoadFile(os.ExpandEnv(path), opts)
			if err != nil {
				return err
			}
			if err := transform.Composite(c, blend, mask); err != nil {
				return fmt.Errorf("blending %s: %w", path, err)
			}
		}
		return c.Save(os.ExpandEnv(args[0]), opts)

	case "grayscalealpha":
		if len(args) != 2 {
			return errUsage
		}
		c, err := loadSource(args[1], opts)
		if err != nil {
			return err
		}
		if err := transform.GrayscaleToAlpha(c, mask); err != nil {
			return err
		}
		return c.Save(os.ExpandEnv(args[0]), opts)

	case "recolor":
		if len(args) != 4 {
			return errUsage
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: icon number %q", errUsage, args[1])
		}
		from, err := parseColor(args[2])
		if err != nil {
			return err
		}
		to, err := parseColor(args[3])
		if err != nil {
			return err
		}
		path := os.ExpandEnv(args[0])
		c, err := ico.LoadFile(path, opts)
		if err != nil {
			return err
		}
		e, err := entryAt(c, n)
		if err != nil {
			return err
		}
		if err := transform.Recolor(e, from, to, mask); err != nil {
			return err
		}
		return c.Save(path, opts)

	case "extract":
		if len(args) != 2 {
			return errUsage
		}
		c, err := loadSource(args[0], opts)
		if err != nil {
			return err
		}
		return extract(c, os.ExpandEnv(args[1]))

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// splitSource splits "file.exe,n" and "file.dll,n" into the module path and
// the icon group index.
func splitSource(src string) (path string, index int, ok bool, err error) {
	lower := strings.ToLower(src)
	for _, ext := range []string{".exe,", ".dll,"} {
		i := strings.Index(lower, ext)
		if i < 0 {
			continue
		}
		cut := i + len(ext) - 1
		index, err = strconv.Atoi(src[cut+1:])
		if err != nil {
			return "", 0, false, fmt.Errorf("%w: resource index in %q", errUsage, src)
		}
		return src[:cut], index, true, nil
	}
	return src, 0, false, nil
}

func isModule(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".exe" || ext == ".dll"
}

func loadSource(src string, opts ico.Options) (*ico.Container, error) {
	path, index, isRes, err := splitSource(os.ExpandEnv(src))
	if err != nil {
		return nil, err
	}
	if !isRes {
		return ico.LoadFile(path, opts)
	}
	res, err := peres.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := ico.LoadResource(res, index, opts)
	if err != nil {
		return nil, fmt.Errorf("%s,%d: %w", path, index, err)
	}
	return c, nil
}

func entryAt(c *ico.Container, n int) (*ico.Entry, error) {
	if n < 0 || n >= len(c.Entries) {
		return nil, fmt.Errorf("invalid icon index %d (%d images)", n, len(c.Entries))
	}
	e := c.Entries[n]
	if e.IsPNG() {
		return nil, fmt.Errorf("image %d: PNG not supported", n)
	}
	return e, nil
}

func list(w io.Writer, src string, opts ico.Options) error {
	path := os.ExpandEnv(src)
	if isModule(path) {
		res, err := peres.Open(path)
		if err != nil {
			return err
		}
		for _, name := range res.GroupNames() {
			fmt.Fprintln(w, name)
		}
		fmt.Fprintln(w)
		return nil
	}

	c, err := loadSource(src, opts)
	if err != nil {
		return err
	}
	for i, e := range c.Entries {
		kind := "BMP"
		if e.IsPNG() {
			kind = "PNG"
		}
		fmt.Fprintf(w, "%2d: %3d x %3d x %3d %s\n", i, e.DirEntry.Width, e.DirEntry.Height, e.Bits, kind)
	}
	fmt.Fprintln(w)
	return nil
}

// show draws the image with 24-bit ANSI colours over a gray background,
// transparent pixels as blanks.
func show(w io.Writer, e *ico.Entry) error {
	b, err := ico.NewBitmap(e)
	if err != nil {
		return err
	}
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			c, err := b.Pixel(x, y)
			if err != nil {
				return err
			}
			if c.A == 0 {
				fmt.Fprint(w, "\x1b[0m\x1b[48;2;128;128;128m ")
			} else {
				fmt.Fprintf(w, "\x1b[38;2;%d;%d;%dm\x1b[48;2;128;128;128mX", c.R, c.G, c.B)
			}
		}
		fmt.Fprint(w, "\x1b[0m|\n")
	}
	fmt.Fprint(w, "\x1b[0m\n")
	return nil
}

// parseColor reads 0xAARRGGBB, or any base strconv accepts with prefix.
func parseColor(s string) (color.NRGBA, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: colour %q", errUsage, s)
	}
	return color.NRGBA{
		B: uint8(v),
		G: uint8(v >> 8),
		R: uint8(v >> 16),
		A: uint8(v >> 24),
	}, nil
}

func extract(c *ico.Container, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, e := range c.Entries {
		ext := "bmp"
		if e.IsPNG() {
			ext = "png"
		}
		name := filepath.Join(dir, fmt.Sprintf("%02d_icon%dx%d@%dbit.%s", i, e.Width(), e.Height(), e.Bits, ext))
		if err := writeEntry(name, e); err != nil {
			return err
		}
		log.Info().Str("file", name).Msg("extracted")
	}
	return nil
}

func writeEntry(name string, e *ico.Entry) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if e.IsPNG() {
		_, err = f.Write(e.Data())
		return err
	}
	if b, berr := ico.NewBitmap(e); berr == nil {
		return bmp.Encode(f, b)
	}
	img, err := ico.DecodeEntry(e)
	if err != nil {
		return err
	}
	return bmp.Encode(f, img)
}
