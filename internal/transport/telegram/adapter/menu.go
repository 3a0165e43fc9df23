package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	kit "mycelium/internal/transport"
	logx "mycelium/pkg/logx"
)

const apiBase = "https://api.telegram.org"

type menuState struct {
	mu   sync.Mutex
	hash uint64
	http *http.Client
	base string // tests point this at httptest
}

func defaultHTTPClient() *http.Client { return &http.Client{Timeout: 8 * time.Second} }

type menuCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

func menuPayload(cmds []kit.BotCommand) []menuCommand {
	out := make([]menuCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		out = append(out, menuCommand{Command: c.Command, Description: d})
		if len(out) == 100 {
			break
		}
	}
	return out
}

func menuHash(cmds []menuCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// UpdateMenuCommands calls setMyCommands. The network call is skipped when
// the list is unchanged since the last success.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menu.mu.Lock()
	defer a.menu.mu.Unlock()

	payload := menuPayload(cmds)
	sum := menuHash(payload)
	if sum == a.menu.hash {
		return nil
	}

	b, err := json.Marshal(struct {
		Commands []menuCommand `json:"commands"`
	}{payload})
	if err != nil {
		return err
	}

	base := a.menu.base
	if base == "" {
		base = apiBase
	}
	url := base + "/bot" + strings.TrimSpace(a.cfg.Token) + "/setMyCommands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.menu.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}

	a.menu.hash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(payload)))
	return nil
}
