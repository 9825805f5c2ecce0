package securestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zalando/go-keyring"
)

// indexKey holds the JSON list of keys written through a Keyring, since OS
// keyrings cannot enumerate entries of a service.
const indexKey = "__index__"

// Keyring stores values in the OS keyring under a single service name.
type Keyring struct {
	service string
	mu      sync.Mutex
}

// NewKeyring creates a keyring-backed store.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

// Available reports whether the OS keyring can be written.
func (k *Keyring) Available() bool {
	const check = "__check__"
	if err := keyring.Set(k.service, check, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(k.service, check)
	return true
}

func (k *Keyring) Write(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	keys, err := k.index()
	if err != nil {
		return err
	}
	if !slices.Contains(keys, key) {
		return k.saveIndex(append(keys, key))
	}
	return nil
}

func (k *Keyring) Read(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	return v, nil
}

func (k *Keyring) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	keys, err := k.index()
	if err != nil {
		return err
	}
	if i := slices.Index(keys, key); i >= 0 {
		return k.saveIndex(slices.Delete(keys, i, i+1))
	}
	return nil
}

func (k *Keyring) ReadAll() (map[string]string, error) {
	k.mu.Lock()
	keys, err := k.index()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		v, err := k.Read(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (k *Keyring) index() ([]string, error) {
	raw, err := keyring.Get(k.service, indexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring index: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		// A corrupt index only loses enumeration, not the values.
		return nil, nil
	}
	return keys, nil
}

func (k *Keyring) saveIndex(keys []string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.service, indexKey, string(raw)); err != nil {
		return fmt.Errorf("keyring index: %w", err)
	}
	return nil
}
