// Command mergerfsd mounts the union filesystem at a mountpoint over a
// set of branch directories. The flag surface is a single root command
// taking positional arguments plus repeatable -o key=value options.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/config"
	"github.com/mergerfs-go/mergerfs/internal/fusefront"
	"github.com/mergerfs-go/mergerfs/internal/inode"
	"github.com/mergerfs-go/mergerfs/internal/logging"
	"github.com/mergerfs-go/mergerfs/internal/policy"
	"github.com/mergerfs-go/mergerfs/internal/unionfs"
)

const defaultCacheTTL = 5 * time.Second

var log = logging.For("mergerfsd")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var options []string
var foreground bool
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "mergerfsd <mountpoint> <branch>[:<branch>...]",
	Short: "Mount a union of branch directories at mountpoint",
	Long: `
mergerfsd presents a merged view of several backing directories (branches)
at a single mountpoint. Policies select which branch serves each create,
search, or action operation; see the control file at <mountpoint>/.mergerfs
for runtime reconfiguration.`,
	Args: cobra.ExactArgs(2),
	RunE: runMount,
}

func init() {
	var flags *pflag.FlagSet = rootCmd.Flags()
	flags.StringArrayVarP(&options, "options", "o", nil, "mount option key=value, repeatable or comma-separated")
	flags.BoolVarP(&foreground, "foreground", "f", true, "stay attached and wait for unmount")
	flags.StringVar(&logLevel, "log-level", "", "override log level (trace,debug,info,warn,error)")
}

func runMount(cmd *cobra.Command, args []string) error {
	if logLevel != "" {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("mergerfsd: bad --log-level %q: %w", logLevel, err)
		}
		logging.SetLevel(lvl)
	}

	mountpoint := args[0]
	branches, err := parseBranches(args[1])
	if err != nil {
		return err
	}

	opts, err := parseOptions(options)
	if err != nil {
		return err
	}

	snap, err := buildSnapshot(branches, opts)
	if err != nil {
		return err
	}

	store := config.NewStore(snap)
	fsys := unionfs.New(store)

	server, err := fusefront.Mount(mountpoint, fsys, &fs.Options{})
	if err != nil {
		return fmt.Errorf("mergerfsd: mount failed: %w", err)
	}
	log.WithFields(logrus.Fields{
		"mountpoint": mountpoint,
		"branches":   len(branches),
	}).Info("mounted")

	if !foreground {
		return nil
	}
	server.Wait()
	return nil
}

// parseBranches splits the colon-separated branch list
// ("<branch>[:<branch>...]") and parses each entry's
// "path[=mode[:minfree]]" grammar.
func parseBranches(spec string) ([]*branch.Branch, error) {
	var out []*branch.Branch
	for _, entry := range splitBranchList(spec) {
		if entry == "" {
			continue
		}
		b, err := branch.ParseBranchString(entry, defaultCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("mergerfsd: %w", err)
		}
		fi, statErr := os.Stat(b.Root())
		if statErr != nil || !fi.IsDir() {
			return nil, fmt.Errorf("mergerfsd: branch path %q is not a directory", b.Root())
		}
		out = append(out, b)
	}
	if err := branch.Validate(out); err != nil {
		return nil, fmt.Errorf("mergerfsd: %w", err)
	}
	return out, nil
}

// splitBranchList separates branches on ':'. Because the same character
// introduces an entry's minfree field ("path=mode:minfree"), a piece
// that parses as a byte count ("500M") and follows an entry that has a
// mode but no minfree yet is joined back onto that entry.
func splitBranchList(spec string) []string {
	var out []string
	for _, part := range strings.Split(spec, ":") {
		if n := len(out); n > 0 && part != "" {
			prev := out[n-1]
			_, numErr := strconv.ParseUint(strings.TrimRight(part, "KkMmGg"), 10, 64)
			if i := strings.IndexByte(prev, '='); i >= 0 && !strings.Contains(prev[i:], ":") && numErr == nil {
				out[n-1] = prev + ":" + part
				continue
			}
		}
		out = append(out, part)
	}
	return out
}

// mountOptions holds the subset of recognized -o keys (the same keys
// the control-file xattr interface uses, without the user.mergerfs.
// prefix) that affect the initial snapshot rather than being applied
// post-mount.
type mountOptions struct {
	inodeCalc    inode.Mode
	moveOnENOSPC config.MoveOnENOSPCPolicy
	statfsMode   branch.StatfsMode
	cacheFiles   bool
	createPolicy string
	searchPolicy string
	actionPolicy string
	funcOverride map[string]string
}

func parseOptions(raw []string) (mountOptions, error) {
	opts := mountOptions{
		inodeCalc:    inode.HybridHash,
		statfsMode:   branch.StatfsBase,
		funcOverride: make(map[string]string),
	}
	for _, group := range raw {
		for _, kv := range strings.Split(group, ",") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			i := strings.IndexByte(kv, '=')
			if i < 0 {
				return opts, fmt.Errorf("mergerfsd: malformed option %q (want key=value)", kv)
			}
			key, value := kv[:i], kv[i+1:]
			if err := applyOption(&opts, key, value); err != nil {
				return opts, err
			}
		}
	}
	return opts, nil
}

func applyOption(opts *mountOptions, key, value string) error {
	switch {
	case key == "inodecalc":
		mode, err := inode.ParseMode(value)
		if err != nil {
			return fmt.Errorf("mergerfsd: unrecognized option %q=%q: %w", key, value, err)
		}
		opts.inodeCalc = mode
	case key == "moveonenospc":
		opts.moveOnENOSPC = config.MoveOnENOSPCPolicy(value)
	case key == "statfs":
		mode, err := branch.ParseStatfsMode(value)
		if err != nil {
			return fmt.Errorf("mergerfsd: unrecognized option %q=%q: %w", key, value, err)
		}
		opts.statfsMode = mode
	case key == "cache.files":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("mergerfsd: unrecognized option %q=%q: %w", key, value, err)
		}
		opts.cacheFiles = v
	case key == "category.create":
		if _, err := policy.Get(value); err != nil {
			return fmt.Errorf("mergerfsd: unrecognized option %q=%q: %w", key, value, err)
		}
		opts.createPolicy = value
	case key == "category.search":
		if _, err := policy.Get(value); err != nil {
			return fmt.Errorf("mergerfsd: unrecognized option %q=%q: %w", key, value, err)
		}
		opts.searchPolicy = value
	case key == "category.action":
		if _, err := policy.Get(value); err != nil {
			return fmt.Errorf("mergerfsd: unrecognized option %q=%q: %w", key, value, err)
		}
		opts.actionPolicy = value
	case strings.HasPrefix(key, "func."):
		if _, err := policy.Get(value); err != nil {
			return fmt.Errorf("mergerfsd: unrecognized option %q=%q: %w", key, value, err)
		}
		opts.funcOverride[strings.TrimPrefix(key, "func.")] = value
	default:
		return fmt.Errorf("mergerfsd: unrecognized option key %q", key)
	}
	return nil
}

func buildSnapshot(branches []*branch.Branch, opts mountOptions) (*config.Snapshot, error) {
	set, err := branch.NewSet(branches)
	if err != nil {
		return nil, fmt.Errorf("mergerfsd: %w", err)
	}
	bindings := config.NewBindings()
	if opts.createPolicy != "" {
		bindings.Category[config.CategoryCreate] = opts.createPolicy
	}
	if opts.searchPolicy != "" {
		bindings.Category[config.CategorySearch] = opts.searchPolicy
	}
	if opts.actionPolicy != "" {
		bindings.Category[config.CategoryAction] = opts.actionPolicy
	}
	for fn, id := range opts.funcOverride {
		bindings.Func[fn] = id
	}
	return &config.Snapshot{
		Branches:     set,
		Bindings:     bindings,
		InodeCalc:    opts.inodeCalc,
		MoveOnENOSPC: opts.moveOnENOSPC,
		StatfsMode:   opts.statfsMode,
		CacheFiles:   opts.cacheFiles,
	}, nil
}
