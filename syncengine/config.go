package syncengine

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/coldpalm/palmsync/conduit"
	"github.com/coldpalm/palmsync/palmerr"
)

// Version is the value reported in a conduit's "Version" header.
const Version = "0.1"

func logf(l *log.Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

// Identity is the expected device user identity, resolved either from a
// serial-number-keyed config block or from the local OS user as a
// fallback.
type Identity struct {
	UserID   uint32
	UserName string
}

// Config is the minimal flat-file configuration format: whitespace-
// separated key/value lines, '#' comments, one directive per line.
type Config struct {
	Port          string
	BackupDir     string
	PreferredRate uint32

	// Identities maps a device serial number to its expected identity;
	// the empty-string key is the fallback used when a device has no
	// serial number yet (pre-3.0 ROM or an un-hotsynced Visor).
	Identities map[string]Identity

	// Conduits is every declared conduit, in declaration order.
	Conduits []conduit.Descriptor
}

var flavorNames = map[string]conduit.Flavor{
	"fetch":     conduit.FlavorFetch,
	"dump":      conduit.FlavorDump,
	"sync":      conduit.FlavorSync,
	"install":   conduit.FlavorInstall,
	"uninstall": conduit.FlavorUninstall,
}

// parseCreaType decodes a 4-character creator/type code, or "*" for the
// 0 wildcard.
func parseCreaType(s string) uint32 {
	if s == "*" || len(s) != 4 {
		return 0
	}
	return uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3])
}

// LoadConfig parses the flat config file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, palmerr.New(palmerr.System, "syncengine: open config", err)
	}
	defer f.Close()

	cfg := &Config{Identities: map[string]Identity{}}
	var curConduit *conduit.Descriptor // the conduit pref/creatype/header lines below attach to

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "port":
			cfg.Port = fields[1]
		case "backup_dir":
			cfg.BackupDir = fields[1]
		case "rate":
			r, err := strconv.ParseUint(fields[1], 10, 32)
			if err == nil {
				cfg.PreferredRate = uint32(r)
			}
		case "identity":
			// identity <serial-or-"default"> <user-id> <user-name...>
			if len(fields) < 4 {
				continue
			}
			id, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				continue
			}
			key := fields[1]
			if key == "default" {
				key = ""
			}
			cfg.Identities[key] = Identity{UserID: uint32(id), UserName: strings.Join(fields[3:], " ")}

		case "conduit":
			// conduit <path> <flavor[,flavor...]> [default] [final]
			d := conduit.Descriptor{Path: fields[1]}
			for _, fl := range strings.Split(fields[2], ",") {
				d.Flavors |= flavorNames[fl]
			}
			for _, opt := range fields[3:] {
				switch opt {
				case "default":
					d.Default = true
				case "final":
					d.Final = true
				}
			}
			cfg.Conduits = append(cfg.Conduits, d)
			curConduit = &cfg.Conduits[len(cfg.Conduits)-1]

		case "creatype":
			// creatype <creator-or-*> <type-or-*>  (attaches to the
			// conduit most recently declared by a "conduit" line)
			if curConduit == nil || len(fields) < 3 {
				continue
			}
			curConduit.CreaTypes = append(curConduit.CreaTypes, conduit.CreaType{
				Creator: parseCreaType(fields[1]),
				Type:    parseCreaType(fields[2]),
			})

		case "pref":
			// pref <creator> <id> <saved|unsaved|any>
			if curConduit == nil || len(fields) < 4 {
				continue
			}
			id, err := strconv.ParseUint(fields[2], 10, 16)
			if err != nil {
				continue
			}
			decl := conduit.PrefDecl{Creator: parseCreaType(fields[1]), ID: uint16(id)}
			switch fields[3] {
			case "saved":
				decl.Saved = true
			case "unsaved":
				decl.Saved = false
			default:
				decl.AnyPersistence = true
			}
			curConduit.PrefDecls = append(curConduit.PrefDecls, decl)

		case "header":
			// header <name> <value...>  (attaches to the most recently
			// declared conduit)
			if curConduit == nil {
				continue
			}
			curConduit.HeaderOverrides = append(curConduit.HeaderOverrides,
				conduit.Header{Name: fields[1], Value: strings.Join(fields[2:], " ")})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, palmerr.New(palmerr.System, "syncengine: read config", err)
	}
	return cfg, nil
}

// ExpectedIdentity resolves the identity a given serial number should
// have, falling back to the default block, then to the local OS user.
func (c *Config) ExpectedIdentity(serial string) Identity {
	if id, ok := c.Identities[serial]; ok {
		return id
	}
	if id, ok := c.Identities[""]; ok {
		return id
	}
	return localUserIdentity()
}
