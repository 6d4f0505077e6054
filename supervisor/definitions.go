package supervisor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/allforeco/echochamber/crypto"
)

// Definition is the persisted record for one chamber. The filename stem is
// the chamber handle; one file per chamber in the data directory.
type Definition struct {
	Handle      string `json:"-"`
	Username    string `json:"username"`
	AppPassword string `json:"app_password"`
	Hostname    string `json:"hostname"`
}

const definitionExt = ".chamber"

// encPrefix marks an app_password stored encrypted. Files written without a
// configured key stay plaintext and load either way.
const encPrefix = "enc:"

func definitionPath(dataDir, handle string) string {
	return filepath.Join(dataDir, handle+definitionExt)
}

// ScanDefinitions loads every chamber definition in dataDir. A definition
// that fails to load is logged and skipped; the rest still start.
func ScanDefinitions(dataDir string, enc crypto.Encryptor) []Definition {
	pattern := definitionPath(dataDir, "*")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		slog.Error("definition scan failed", slog.String("pattern", pattern), slog.Any("err", err))
		return nil
	}
	var defs []Definition
	for _, path := range paths {
		def, err := loadDefinition(path, enc)
		if err != nil {
			slog.Error("loading chamber definition failed, skipping", slog.String("path", path), slog.Any("err", err))
			continue
		}
		slog.Info("loaded chamber definition", slog.String("handle", def.Handle))
		defs = append(defs, def)
	}
	return defs
}

func loadDefinition(path string, enc crypto.Encryptor) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("decode %s: %w", path, err)
	}
	def.Handle = strings.TrimSuffix(filepath.Base(path), definitionExt)
	if strings.HasPrefix(def.AppPassword, encPrefix) {
		if enc == nil {
			return Definition{}, fmt.Errorf("%s holds an encrypted password but no crypt key is configured", path)
		}
		plain, err := crypto.DecryptString(enc, strings.TrimPrefix(def.AppPassword, encPrefix))
		if err != nil {
			return Definition{}, fmt.Errorf("decrypt password for %s: %w", def.Handle, err)
		}
		def.AppPassword = plain
	}
	return def, nil
}

// SaveDefinition persists a chamber definition. With a crypt key configured
// the app password is encrypted at rest.
func SaveDefinition(dataDir string, def Definition, enc crypto.Encryptor) error {
	stored := def
	if enc != nil {
		encrypted, err := crypto.EncryptString(enc, def.AppPassword)
		if err != nil {
			return fmt.Errorf("encrypt password for %s: %w", def.Handle, err)
		}
		stored.AppPassword = encPrefix + encrypted
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode definition for %s: %w", def.Handle, err)
	}
	path := definitionPath(dataDir, def.Handle)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write definition %s: %w", path, err)
	}
	slog.Info("saved chamber definition", slog.String("handle", def.Handle))
	return nil
}

// DeleteDefinition removes a chamber's persisted definition.
func DeleteDefinition(dataDir, handle string) error {
	path := definitionPath(dataDir, handle)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete definition %s: %w", path, err)
	}
	slog.Info("deleted chamber definition", slog.String("handle", handle))
	return nil
}
