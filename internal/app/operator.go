package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kraken-hop-bot/internal/alerts"
	"kraken-hop-bot/internal/config"
	"kraken-hop-bot/internal/strategy"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

func (m operatorMeta) auditEvent(action string) operatorAuditEvent {
	return operatorAuditEvent{
		UpdateID: m.UpdateID,
		Time:     time.Now().UTC(),
		Action:   action,
		Command:  m.Raw,
		UserID:   m.UserID,
		Username: m.Username,
		ChatID:   m.ChatID,
	}
}

type operatorAuditEvent struct {
	UpdateID     int64              `json:"update_id"`
	Time         time.Time          `json:"time"`
	Action       string             `json:"action"`
	Command      string             `json:"command"`
	UserID       int64              `json:"user_id"`
	Username     string             `json:"username,omitempty"`
	ChatID       int64              `json:"chat_id"`
	PausedBefore bool               `json:"paused_before"`
	PausedAfter  bool               `json:"paused_after"`
	RiskBefore   *config.RiskConfig `json:"risk_before,omitempty"`
	RiskAfter    *config.RiskConfig `json:"risk_after,omitempty"`
	Result       string             `json:"result,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.updates == nil || a.alerts == nil {
		return
	}
	if !a.cfg.Telegram.Enabled || !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for ctx.Err() == nil {
		next, err := a.pollOperator(ctx, offset, chatID, allowedUsers, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logOperatorError(err)
			if sleepContext(ctx, pollInterval) != nil {
				return
			}
			continue
		}
		offset = next
	}
}

// pollOperator handles one batch of updates and returns the offset to poll
// from next. The offset is persisted before each update is handled so a
// crash never replays a command.
func (a *App) pollOperator(ctx context.Context, offset, chatID int64, allowedUsers map[int64]struct{}, wait time.Duration) (int64, error) {
	updates, err := a.updates.GetUpdates(ctx, offset, wait)
	if err != nil {
		return offset, err
	}
	if a.operatorWarned {
		a.log.Info("telegram operator recovered")
		a.operatorWarned = false
	}
	for _, upd := range updates {
		if upd.UpdateID >= offset {
			offset = upd.UpdateID + 1
			a.saveOperatorOffset(ctx, offset)
		}
		a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
	}
	return offset, nil
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	// /id is how an operator discovers the chat id to configure, so it is
	// answered from any chat. The reply still goes to the configured chat.
	if msg.Chat.ID != chatID && cmd != "id" {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /cmd@botname.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "id":
		return fmt.Sprintf("Your chat id: %d", meta.ChatID), nil
	case "balance":
		report, err := a.BalanceReport(ctx)
		if err != nil {
			return fmt.Sprintf("Could not fetch balance: %v", err), nil
		}
		return report, nil
	case "price", "status":
		return a.operatorStatus(ctx), nil
	case "abort", "revert":
		return a.handleRevertCommand(ctx, meta), nil
	case "pause":
		if a.setPausedAudited(ctx, true, meta) {
			return "trading paused", nil
		}
		return "trading already paused", nil
	case "resume":
		if a.setPausedAudited(ctx, false, meta) {
			return "trading resumed", nil
		}
		return "trading already active", nil
	case "risk":
		return a.handleRiskCommand(ctx, args, meta)
	default:
		return operatorHelpText(), nil
	}
}

// setPausedAudited records the change in the audit trail and reports
// whether the paused flag actually changed.
func (a *App) setPausedAudited(ctx context.Context, paused bool, meta operatorMeta) bool {
	event := meta.auditEvent("resume")
	if paused {
		event.Action = "pause"
	}
	before := a.setPaused(paused)
	event.PausedBefore = before
	event.PausedAfter = paused
	a.auditOperatorEvent(ctx, event)
	return before != paused
}

func (a *App) handleRevertCommand(ctx context.Context, meta operatorMeta) string {
	err := a.RevertLastOrder(ctx)
	result := "reverted"
	resp := "Successfully reverted order!"
	switch {
	case errors.Is(err, strategy.ErrNotPending):
		result = "nothing pending"
		resp = "No pending order to revert."
	case err != nil:
		result = err.Error()
		resp = fmt.Sprintf("Could not revert order: %v", err)
	}
	event := meta.auditEvent("revert")
	event.Result = result
	a.auditOperatorEvent(ctx, event)
	return resp
}

func (a *App) operatorStatus(ctx context.Context) string {
	report, err := a.Status(ctx)
	if err != nil {
		return fmt.Sprintf("Error calculating gain: %v", err)
	}
	icon := "🔴"
	if report.GainPercent > 0 {
		icon = "🟢"
	}
	lines := []string{
		fmt.Sprintf("RELATIVE: %.5f", report.Cross),
		fmt.Sprintf("%s: %.2f", a.params.Assets.A, report.AssetAQuote),
		fmt.Sprintf("%s: %.2f", a.params.Assets.B, report.AssetBQuote),
		fmt.Sprintf("GAIN: %.2f%% %s", report.GainPercent, icon),
	}
	if a.isPaused() {
		lines = append(lines, "trading paused")
	}
	return strings.Join(lines, "\n")
}

func (a *App) handleRiskCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return a.riskStatus(), nil
	}
	switch strings.ToLower(args[0]) {
	case "reset":
		event := meta.auditEvent("risk_reset")
		event.RiskBefore = a.riskOverrideSnapshot()
		a.clearRiskOverride()
		a.auditOperatorEvent(ctx, event)
		return "risk override cleared", nil
	case "set":
		overrides, err := parseRiskOverrides(args[1:])
		if err != nil {
			return "", err
		}
		next, err := applyRiskOverrides(a.riskConfig(), overrides)
		if err != nil {
			return "", err
		}
		event := meta.auditEvent("risk_set")
		event.RiskBefore = a.riskOverrideSnapshot()
		// An override equal to the configured limits is no override.
		if next == a.cfg.Risk {
			a.clearRiskOverride()
		} else {
			a.setRiskOverride(next)
		}
		event.RiskAfter = a.riskOverrideSnapshot()
		a.auditOperatorEvent(ctx, event)
		return "risk override updated", nil
	default:
		return "", errors.New("unknown risk command: use /risk show|set|reset")
	}
}

func parseRiskOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("risk set requires key=value pairs")
	}
	out := make(map[string]string)
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid risk setting: %s", arg)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			return nil, fmt.Errorf("invalid risk setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

func applyRiskOverrides(base config.RiskConfig, overrides map[string]string) (config.RiskConfig, error) {
	next := base
	for key, val := range overrides {
		switch key {
		case "min_order_volume":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return config.RiskConfig{}, fmt.Errorf("min_order_volume: %w", err)
			}
			next.MinOrderVolume = parsed
		case "max_book_age":
			dur, err := time.ParseDuration(val)
			if err != nil {
				return config.RiskConfig{}, fmt.Errorf("max_book_age: %w", err)
			}
			next.MaxBookAge = dur
		default:
			return config.RiskConfig{}, fmt.Errorf("unknown risk key: %s", key)
		}
	}
	if next.MinOrderVolume < 0 {
		return config.RiskConfig{}, errors.New("min_order_volume must be >= 0")
	}
	if next.MaxBookAge < 0 {
		return config.RiskConfig{}, errors.New("max_book_age must be >= 0")
	}
	return next, nil
}

func (a *App) riskStatus() string {
	format := func(label string, risk config.RiskConfig) string {
		return fmt.Sprintf("%s: min_order_volume=%g max_book_age=%s", label, risk.MinOrderVolume, risk.MaxBookAge)
	}
	lines := []string{format("risk effective", a.riskConfig())}
	if override := a.riskOverrideSnapshot(); override != nil {
		lines = append(lines, format("risk override", *override))
	} else {
		lines = append(lines, "risk override: none")
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/id - show this chat id",
		"/balance - balances valued in the quote currency",
		"/price, /status - cross rate, quote prices and gain",
		"/abort, /revert - cancel open orders and restore the last completed order",
		"/pause - stop placing new hop orders",
		"/resume - resume placing hop orders",
		"/risk show - show active risk settings",
		"/risk set key=value ... - override risk (keys: min_order_volume, max_book_age)",
		"/risk reset - clear risk override",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

// setPaused stores paused and returns the previous value.
func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	before := a.paused
	a.paused = paused
	return before
}

func (a *App) riskConfig() config.RiskConfig {
	a.opsMu.RLock()
	override := a.riskOverride
	a.opsMu.RUnlock()
	if override == nil {
		return a.cfg.Risk
	}
	return *override
}

func (a *App) riskOverrideSnapshot() *config.RiskConfig {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	if a.riskOverride == nil {
		return nil
	}
	copy := *a.riskOverride
	return &copy
}

func (a *App) setRiskOverride(risk config.RiskConfig) {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.riskOverride = &risk
}

func (a *App) clearRiskOverride() {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.riskOverride = nil
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("operator offset not saved", zap.Error(err))
	}
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d:%d", time.Now().UTC().UnixNano(), a.auditSeq.Add(1), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
