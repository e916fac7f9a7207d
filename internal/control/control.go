// Package control implements the synthetic control pseudo-file: a
// virtual entry at /.mergerfs whose extended attributes read and
// atomically mutate the live configuration snapshot.
//
// Every recognized key is validated before any mutation is applied, and
// the whole snapshot swap happens in one config.Store.Update call so
// readers never observe a half-written configuration.
package control

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/config"
	"github.com/mergerfs-go/mergerfs/internal/inode"
	"github.com/mergerfs-go/mergerfs/internal/policy"
)

const defaultCacheTTL = 5 * time.Second

var osStat = os.Stat

func policyExists(id string) (policy.Policy, error) {
	return policy.Get(id)
}

// Path is the reserved logical path name: it must never appear as a
// real entry in any branch.
const Path = "/.mergerfs"

const keyPrefix = "user.mergerfs."

// Version is a per-mount-instance identifier surfaced via the read-only
// user.mergerfs.version key, generated once at startup.
var Version = uuid.New().String()

// File implements the control pseudo-file's xattr surface against a live
// config.Store. It holds no state of its own: every read/write goes
// straight through to the current Snapshot.
type File struct {
	Store *config.Store
	Log   *logrus.Entry
}

func New(store *config.Store, log *logrus.Entry) *File {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &File{Store: store, Log: log.WithField("component", "control")}
}

// ChangeTime returns the current snapshot's effective mtime/ctime,
// approximated as process start time advanced by the snapshot version,
// since Snapshot itself carries no wall-clock timestamp.
func (f *File) ChangeTime() time.Time {
	return startTime.Add(time.Duration(f.Store.Load().Version) * time.Nanosecond)
}

var startTime = time.Now()

// List enumerates every recognized key, expanding func.<op> and
// category.<class> into their concrete instances from the current
// bindings.
func (f *File) List() []string {
	snap := f.Store.Load()
	keys := []string{
		keyPrefix + "branches",
		keyPrefix + "inodecalc",
		keyPrefix + "moveonenospc",
		keyPrefix + "statfs",
		keyPrefix + "cache.files",
		keyPrefix + "version",
	}
	for cat := range snap.Bindings.Category {
		keys = append(keys, keyPrefix+"category."+string(cat))
	}
	for fn := range snap.Bindings.Func {
		keys = append(keys, keyPrefix+"func."+fn)
	}
	sort.Strings(keys)
	return keys
}

// Get reads a configuration field via getxattr.
func (f *File) Get(key string) (string, error) {
	name, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", syscall.ENODATA
	}
	snap := f.Store.Load()

	switch {
	case name == "branches":
		return formatBranches(snap.Branches.List()), nil
	case name == "inodecalc":
		return snap.InodeCalc.String(), nil
	case name == "moveonenospc":
		return string(snap.MoveOnENOSPC), nil
	case name == "statfs":
		return snap.StatfsMode.String(), nil
	case name == "cache.files":
		return strconv.FormatBool(snap.CacheFiles), nil
	case name == "version":
		return Version, nil
	case strings.HasPrefix(name, "func."):
		fn := strings.TrimPrefix(name, "func.")
		if id, ok := snap.Bindings.Func[fn]; ok {
			return id, nil
		}
		return "", syscall.ENODATA
	case strings.HasPrefix(name, "category."):
		cat := config.Category(strings.TrimPrefix(name, "category."))
		if id, ok := snap.Bindings.Category[cat]; ok {
			return id, nil
		}
		return "", syscall.ENODATA
	default:
		return "", syscall.ENODATA
	}
}

func formatBranches(bs []*branch.Branch) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.String()
	}
	return strings.Join(parts, ";")
}

// Set validates and applies value to key, publishing a new snapshot on
// success. Invalid values are rejected with EINVAL without changing the
// configuration.
func (f *File) Set(key, value string) error {
	name, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return syscall.EINVAL
	}
	if name == "version" {
		return syscall.EINVAL // read-only
	}

	err := f.Store.Update(func(snap *config.Snapshot) error {
		switch {
		case name == "branches":
			return applyBranches(snap, value)
		case name == "inodecalc":
			mode, err := inode.ParseMode(value)
			if err != nil {
				return syscall.EINVAL
			}
			snap.InodeCalc = mode
			return nil
		case name == "moveonenospc":
			if value != "" {
				if _, err := policyExists(value); err != nil {
					return syscall.EINVAL
				}
			}
			snap.MoveOnENOSPC = config.MoveOnENOSPCPolicy(value)
			return nil
		case name == "statfs":
			mode, err := branch.ParseStatfsMode(value)
			if err != nil {
				return syscall.EINVAL
			}
			snap.StatfsMode = mode
			return nil
		case name == "cache.files":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return syscall.EINVAL
			}
			snap.CacheFiles = v
			return nil
		case strings.HasPrefix(name, "func."):
			fn := strings.TrimPrefix(name, "func.")
			if _, err := policyExists(value); err != nil {
				return syscall.EINVAL
			}
			snap.Bindings.Func[fn] = value
			return nil
		case strings.HasPrefix(name, "category."):
			cat := config.Category(strings.TrimPrefix(name, "category."))
			if _, err := policyExists(value); err != nil {
				return syscall.EINVAL
			}
			snap.Bindings.Category[cat] = value
			return nil
		default:
			return syscall.EINVAL
		}
	})
	if err != nil {
		f.Log.WithError(err).WithField("key", key).Warn("rejected control write")
	}
	return err
}

func applyBranches(snap *config.Snapshot, value string) error {
	entries := strings.Split(value, ";")
	parsed := make([]*branch.Branch, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		b, err := branch.ParseBranchString(e, defaultCacheTTL)
		if err != nil {
			return fmt.Errorf("control: %w: %w", err, syscall.EINVAL)
		}
		fi, statErr := osStat(b.Root())
		if statErr != nil || !fi.IsDir() {
			return fmt.Errorf("control: branch path %q is not a directory: %w", b.Root(), syscall.EINVAL)
		}
		parsed = append(parsed, b)
	}
	if err := branch.Validate(parsed); err != nil {
		return fmt.Errorf("control: %w: %w", err, syscall.EINVAL)
	}
	set, err := branch.NewSet(parsed)
	if err != nil {
		return fmt.Errorf("control: %w: %w", err, syscall.EINVAL)
	}
	snap.Branches = set
	return nil
}
