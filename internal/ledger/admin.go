package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/store"
)

// Init configures the ledger once. The access-control identity becomes the
// first admin and operator. A second call fails with ErrAlreadyInitialized.
func (e *Engine) Init(ctx context.Context, accessControl, treasury string, feeBps uint32, resolutionDelay time.Duration) error {
	if accessControl == "" || treasury == "" {
		return ErrInvalidIdentity
	}
	if feeBps > 10_000 {
		return fmt.Errorf("%w: %d", ErrInvalidFee, feeBps)
	}
	if resolutionDelay < 0 {
		return ErrInvalidDelay
	}

	return e.update(ctx, "init", func(c *call) error {
		var cfg model.Config
		if _, err := c.tx.Get(store.ConfigKey, &cfg); err != nil {
			return err
		}
		if cfg.Initialized {
			return ErrAlreadyInitialized
		}

		cfg = model.Config{
			Treasury:        treasury,
			FeeBps:          feeBps,
			ResolutionDelay: resolutionDelay,
			Initialized:     true,
			InitializedAt:   c.now,
		}
		ac := model.AccessControl{}
		ac.Grant(accessControl, model.RoleAdmin)
		ac.Grant(accessControl, model.RoleOperator)

		if err := c.tx.Put(store.ConfigKey, cfg); err != nil {
			return err
		}
		if err := c.tx.Put(store.AccessControlKey, ac); err != nil {
			return err
		}
		if err := c.tx.Put(store.PoolIDCounterKey, uint64(0)); err != nil {
			return err
		}

		c.emit(model.Event{
			Type:   model.EventInit,
			Actor:  accessControl,
			Detail: fmt.Sprintf("treasury=%s fee_bps=%d resolution_delay=%s", treasury, feeBps, resolutionDelay),
		})
		slog.Info("ledger initialized",
			"access_control", accessControl,
			"treasury", treasury,
			"fee_bps", feeBps,
			"resolution_delay", resolutionDelay.String(),
		)
		return nil
	})
}

// GetConfig returns the ledger configuration.
func (e *Engine) GetConfig(ctx context.Context) (model.Config, error) {
	var cfg model.Config
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var err error
		cfg, err = loadConfig(tx)
		return err
	})
	return cfg, err
}

// --- Token whitelist ---

// AddTokenToWhitelist approves token for new pools. Adding a token that is
// already present is a no-op.
func (e *Engine) AddTokenToWhitelist(ctx context.Context, admin, token string) error {
	if token == "" {
		return ErrInvalidIdentity
	}
	return e.update(ctx, "add_token", func(c *call) error {
		if err := e.requireAdmin(c, "add_token", admin, true); err != nil {
			return err
		}
		list, err := loadWhitelist(c.tx)
		if err != nil {
			return err
		}
		i := sort.SearchStrings(list, token)
		if i < len(list) && list[i] == token {
			return nil
		}
		list = append(list, "")
		copy(list[i+1:], list[i:])
		list[i] = token
		if err := c.tx.Put(store.TokenWhitelistKey, list); err != nil {
			return err
		}
		c.emit(model.Event{Type: model.EventTokenWhitelisted, Actor: admin, Detail: token})
		slog.Info("token whitelisted", "token", token, "admin", admin)
		return nil
	})
}

// RemoveTokenFromWhitelist withdraws approval for token. Existing pools
// keep working; only new pools are affected.
func (e *Engine) RemoveTokenFromWhitelist(ctx context.Context, admin, token string) error {
	return e.update(ctx, "remove_token", func(c *call) error {
		if err := e.requireAdmin(c, "remove_token", admin, true); err != nil {
			return err
		}
		list, err := loadWhitelist(c.tx)
		if err != nil {
			return err
		}
		i := sort.SearchStrings(list, token)
		if i == len(list) || list[i] != token {
			return nil
		}
		list = append(list[:i], list[i+1:]...)
		if err := c.tx.Put(store.TokenWhitelistKey, list); err != nil {
			return err
		}
		c.emit(model.Event{Type: model.EventTokenRemoved, Actor: admin, Detail: token})
		slog.Info("token removed from whitelist", "token", token, "admin", admin)
		return nil
	})
}

// IsTokenAllowed reports whether token is whitelisted.
func (e *Engine) IsTokenAllowed(ctx context.Context, token string) (bool, error) {
	var allowed bool
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var err error
		allowed, err = isWhitelisted(tx, token)
		return err
	})
	return allowed, err
}

// Whitelist returns every approved token in sorted order.
func (e *Engine) Whitelist(ctx context.Context) ([]string, error) {
	var list []string
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		var err error
		list, err = loadWhitelist(tx)
		return err
	})
	return list, err
}

func loadWhitelist(tx store.Tx) ([]string, error) {
	var list []string
	if _, err := tx.Get(store.TokenWhitelistKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func isWhitelisted(tx store.Tx, token string) (bool, error) {
	list, err := loadWhitelist(tx)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(list, token)
	return i < len(list) && list[i] == token, nil
}

// --- Roles ---

// GrantRole gives identity a role. Granting a held role is a no-op.
func (e *Engine) GrantRole(ctx context.Context, admin, identity string, role model.Role) error {
	if identity == "" {
		return ErrInvalidIdentity
	}
	if !validRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return e.update(ctx, "grant_role", func(c *call) error {
		if err := e.requireAdmin(c, "grant_role", admin, false); err != nil {
			return err
		}
		var ac model.AccessControl
		if _, err := c.tx.Get(store.AccessControlKey, &ac); err != nil {
			return err
		}
		if !ac.Grant(identity, role) {
			return nil
		}
		if err := c.tx.Put(store.AccessControlKey, ac); err != nil {
			return err
		}
		c.emit(model.Event{Type: model.EventRoleGranted, Actor: admin, Detail: fmt.Sprintf("%s:%s", role, identity)})
		slog.Info("role granted", "role", role, "identity", identity, "admin", admin)
		return nil
	})
}

// RevokeRole removes a role from identity. The last admin cannot be revoked.
func (e *Engine) RevokeRole(ctx context.Context, admin, identity string, role model.Role) error {
	if !validRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return e.update(ctx, "revoke_role", func(c *call) error {
		if err := e.requireAdmin(c, "revoke_role", admin, false); err != nil {
			return err
		}
		var ac model.AccessControl
		if _, err := c.tx.Get(store.AccessControlKey, &ac); err != nil {
			return err
		}
		if role == model.RoleAdmin && len(ac.Admins) == 1 && ac.Has(identity, model.RoleAdmin) {
			return ErrLastAdmin
		}
		if !ac.Revoke(identity, role) {
			return nil
		}
		if err := c.tx.Put(store.AccessControlKey, ac); err != nil {
			return err
		}
		c.emit(model.Event{Type: model.EventRoleRevoked, Actor: admin, Detail: fmt.Sprintf("%s:%s", role, identity)})
		slog.Info("role revoked", "role", role, "identity", identity, "admin", admin)
		return nil
	})
}

func validRole(r model.Role) bool {
	return r == model.RoleAdmin || r == model.RoleOperator || r == model.RoleOracle
}

// --- Pause ---

// Pause halts pool creation, staking, resolution, cancellation, claims and
// configuration changes until Unpause.
func (e *Engine) Pause(ctx context.Context, admin string) error {
	return e.setPaused(ctx, admin, true)
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(ctx context.Context, admin string) error {
	return e.setPaused(ctx, admin, false)
}

func (e *Engine) setPaused(ctx context.Context, admin string, paused bool) error {
	op, typ := "unpause", model.EventUnpaused
	if paused {
		op, typ = "pause", model.EventPaused
	}
	return e.update(ctx, op, func(c *call) error {
		if err := e.requireAdmin(c, op, admin, false); err != nil {
			return err
		}
		if err := c.tx.Put(store.PausedKey, paused); err != nil {
			return err
		}
		c.emit(model.Event{Type: typ, Actor: admin})
		if paused {
			slog.Warn("ledger paused", "admin", admin)
		} else {
			slog.Info("ledger unpaused", "admin", admin)
		}
		return nil
	})
}

// IsPaused reports whether the ledger is paused.
func (e *Engine) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := e.view(ctx, func(tx store.Tx, _ time.Time) error {
		_, err := tx.Get(store.PausedKey, &paused)
		return err
	})
	return paused, err
}

// --- Config setters ---

// SetFeeBps changes the default fee for pools created afterwards.
func (e *Engine) SetFeeBps(ctx context.Context, admin string, feeBps uint32) error {
	if feeBps > 10_000 {
		return fmt.Errorf("%w: %d", ErrInvalidFee, feeBps)
	}
	return e.updateConfig(ctx, "set_fee_bps", admin, func(cfg *model.Config) string {
		cfg.FeeBps = feeBps
		return fmt.Sprintf("fee_bps=%d", feeBps)
	})
}

// SetTreasury changes the account that receives resolution fees.
func (e *Engine) SetTreasury(ctx context.Context, admin, treasury string) error {
	if treasury == "" {
		return ErrInvalidIdentity
	}
	return e.updateConfig(ctx, "set_treasury", admin, func(cfg *model.Config) string {
		cfg.Treasury = treasury
		return "treasury=" + treasury
	})
}

// SetResolutionDelay changes how long after end time a pool must wait
// before it can be resolved.
func (e *Engine) SetResolutionDelay(ctx context.Context, admin string, delay time.Duration) error {
	if delay < 0 {
		return ErrInvalidDelay
	}
	return e.updateConfig(ctx, "set_resolution_delay", admin, func(cfg *model.Config) string {
		cfg.ResolutionDelay = delay
		return "resolution_delay=" + delay.String()
	})
}

func (e *Engine) updateConfig(ctx context.Context, op, admin string, apply func(cfg *model.Config) string) error {
	return e.update(ctx, op, func(c *call) error {
		if err := e.requireAdmin(c, op, admin, true); err != nil {
			return err
		}
		cfg, err := loadConfig(c.tx)
		if err != nil {
			return err
		}
		detail := apply(&cfg)
		if err := c.tx.Put(store.ConfigKey, cfg); err != nil {
			return err
		}
		c.emit(model.Event{Type: model.EventConfigUpdated, Actor: admin, Detail: detail})
		slog.Info("config updated", "op", op, "admin", admin, "change", detail)
		return nil
	})
}

// requireAdmin checks initialization, optionally the pause flag, and the
// admin role, in that order.
func (e *Engine) requireAdmin(c *call, op, admin string, checkPaused bool) error {
	if _, err := loadConfig(c.tx); err != nil {
		return err
	}
	if checkPaused {
		if err := requireNotPaused(c.tx); err != nil {
			return err
		}
	}
	return requireRole(c.tx, op, admin, model.RoleAdmin)
}
