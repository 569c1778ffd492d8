package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/roulettebot/core"
	"github.com/web3guy0/roulettebot/storage"
	"github.com/web3guy0/roulettebot/strategy"
	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Engine notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🎯 Sequence results (win / max-stage)
//   ⚠️ Alerts (feed terminated, renewal exhausted, rejections)
//   🎛️ Control (/start, /stop, /reset)
//   📊 Reporting (/status, /stats, /wagers)
//
// ═══════════════════════════════════════════════════════════════════════════════

// Controller is the engine control surface
type Controller interface {
	Start(ctx context.Context, account string, stakes strategy.StakeTable) error
	Stop(account string) error
	Snapshot(account string) (core.Snapshot, error)
	Reset(account string) error
}

// History serves persisted wagers. Optional.
type History interface {
	RecentWagers(account string, limit int) ([]storage.WagerRow, error)
}

// TelegramBot manages the Telegram interface for one account
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	account string
	stakes  strategy.StakeTable
	control Controller
	history History
}

// NewTelegramBot creates a new Telegram bot
func NewTelegramBot(token string, chatID int64, account string, stakes strategy.StakeTable, history History) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:     api,
		chatID:  chatID,
		stopCh:  make(chan struct{}),
		account: account,
		stakes:  stakes,
		history: history,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// SetController wires the engine control surface
func (b *TelegramBot) SetController(c Controller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.control = c
}

func (b *TelegramBot) controller() Controller {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.control
}

// Start begins listening for commands
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyWager reports the end of a sequence. Intermediate losses stay in the log.
func (b *TelegramBot) NotifyWager(account string, rec types.WagerRecord, terminated bool, stats strategy.Stats) {
	if !terminated {
		return
	}
	b.sendMarkdown(formatSettlement(account, rec, stats))
}

// NotifyAlert sends a warning
func (b *TelegramBot) NotifyAlert(account, message string) {
	b.sendMarkdown(fmt.Sprintf("⚠️ *ALERT* — `%s`\n\n%s", account, message))
}

// NotifyStartup sends startup notification
func (b *TelegramBot) NotifyStartup(mode string) {
	msg := fmt.Sprintf(`🚀 *ROULETTEBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

👤 Account: *%s*
📊 Mode: *%s*
🪜 Stakes: *%s*
💰 Ladder total: *$%s*

Use /help for commands`, b.account, strings.ToUpper(mode), b.stakes.String(), b.stakes.Total().StringFixed(2))

	b.sendMarkdown(msg)
}

func formatSettlement(account string, rec types.WagerRecord, stats strategy.Stats) string {
	emoji := "✅"
	title := "SEQUENCE WON"
	if rec.Result == types.ResultMaxStage {
		emoji = "💀"
		title = "MAX STAGE LOSS"
	}

	mode := "LIVE"
	if rec.Simulated {
		mode = "SIM"
	}

	return fmt.Sprintf(`%s *%s* (%s)

👤 %s
🎯 Stage *%d* — predicted %s, drew *%d* %s
💵 Stake: *$%s*
━━━━━━━━━━━━━━━━
📈 Win rate: *%s%%* (%d/%d)
💰 Profit: *%s*`,
		emoji, title, mode,
		account,
		rec.StageIndex+1, rec.Predicted.Name(), rec.ActualValue, rec.Actual.Name(),
		rec.Amount.StringFixed(2),
		stats.WinRate().StringFixed(1), stats.Wins, stats.Total,
		signed(stats.Profit),
	)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())

	if cmd != "help" && cmd != "ping" && b.controller() == nil {
		b.send("⏳ Engine not ready")
		return
	}

	switch cmd {
	case "help":
		b.sendMarkdown(helpText)
	case "status":
		b.cmdStatus()
	case "stats":
		b.cmdStats()
	case "wagers":
		b.cmdWagers()
	case "start":
		b.cmdStart()
	case "stop":
		b.cmdStop()
	case "reset":
		b.cmdReset()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

const helpText = `🤖 *ROULETTEBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
📈 /stats — Per-stage statistics
📜 /wagers — Last 10 wagers
▶️ /start — Start the engine
⏹️ /stop — Stop the engine
🔄 /reset — Clear statistics
🏓 /ping — Test connection`

func (b *TelegramBot) cmdStatus() {
	snap, err := b.controller().Snapshot(b.account)
	if err != nil {
		b.send(notRunningText(err))
		return
	}
	b.sendMarkdown(formatStatus(snap))
}

func (b *TelegramBot) cmdStats() {
	snap, err := b.controller().Snapshot(b.account)
	if err != nil {
		b.send(notRunningText(err))
		return
	}

	s := snap.Strategy.Stats
	msg := fmt.Sprintf(`📈 *STATS* — %s
━━━━━━━━━━━━━━━━━━━━

📊 Settled: *%d* (%d simulated)
✅ Wins: *%d*  ❌ Losses: *%d*
🟢 Green losses: *%d*
💀 Max-stage losses: *%d*
❓ Indeterminate: *%d*
📈 Win rate: *%s%%*
💰 Profit: *%s*

`+"```\n%s```",
		snap.Account,
		s.Total, s.Simulated,
		s.Wins, s.Losses,
		s.GreenLosses,
		s.MaxStageLosses,
		s.Indeterminate,
		s.WinRate().StringFixed(1),
		signed(s.Profit),
		renderStageTable(s, snap.Stakes),
	)
	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdWagers() {
	var records []types.WagerRecord

	if b.history != nil {
		rows, err := b.history.RecentWagers(b.account, 10)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load wagers")
			b.send("❌ Failed to fetch wagers")
			return
		}
		records = rowsToRecords(rows)
	} else {
		snap, err := b.controller().Snapshot(b.account)
		if err != nil {
			b.send(notRunningText(err))
			return
		}
		records = snap.RecentWagers
		// newest first
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
		if len(records) > 10 {
			records = records[:10]
		}
	}

	if len(records) == 0 {
		b.send("📭 No wagers yet")
		return
	}
	b.sendMarkdown(formatWagers(records))
}

func (b *TelegramBot) cmdStart() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.controller().Start(ctx, b.account, b.stakes); err != nil {
		if errors.Is(err, core.ErrAlreadyRunning) {
			b.send("ℹ️ Engine already running")
			return
		}
		b.send(fmt.Sprintf("❌ Start failed: %v", err))
		return
	}
	b.send("▶️ Engine started")
	log.Info().Str("account", b.account).Msg("Engine started via Telegram")
}

func (b *TelegramBot) cmdStop() {
	if err := b.controller().Stop(b.account); err != nil {
		b.send(notRunningText(err))
		return
	}
	b.send("⏹️ Engine stopped. Stats kept until /reset")
	log.Info().Str("account", b.account).Msg("Engine stopped via Telegram")
}

func (b *TelegramBot) cmdReset() {
	if err := b.controller().Reset(b.account); err != nil {
		b.send(notRunningText(err))
		return
	}
	b.send("🔄 Statistics reset")
	log.Info().Str("account", b.account).Msg("Engine reset via Telegram")
}

// ═══════════════════════════════════════════════════════════════════════════════
// FORMATTING
// ═══════════════════════════════════════════════════════════════════════════════

func formatStatus(snap core.Snapshot) string {
	status := "🔴 STOPPED"
	if snap.Running {
		status = "🟢 RUNNING"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *STATUS* — %s\n━━━━━━━━━━━━━━━━━━━━\n\n", snap.Account)
	fmt.Fprintf(&sb, "%s\n", status)
	fmt.Fprintf(&sb, "🔌 Feed: *%s* (table %s)\n", snap.Connection.Status, snap.Connection.TableID)
	if snap.Connection.ReconnectAttempts > 0 {
		fmt.Fprintf(&sb, "🔄 Reconnect attempt: *%d*\n", snap.Connection.ReconnectAttempts)
	}

	session := "❌ none"
	switch {
	case snap.Session.Exhausted:
		session = "🚫 exhausted"
	case snap.Session.Usable:
		session = fmt.Sprintf("✅ expires %s", snap.Session.ExpiresAt.Format("15:04:05"))
	}
	fmt.Fprintf(&sb, "🔑 Session: *%s*\n", session)

	mode := strings.ToUpper(string(snap.Gate.Mode))
	if snap.Gate.Mode == "gated" {
		state := "closed"
		if snap.Gate.Live {
			state = "open"
		}
		mode = fmt.Sprintf("%s (%s, %d/%d)", mode, state, snap.Gate.Losses, snap.Gate.Threshold)
	}
	fmt.Fprintf(&sb, "📊 Mode: *%s*\n\n", mode)

	st := snap.Strategy
	if st.Active {
		fmt.Fprintf(&sb, "🎯 Sequence: *%s* cycle %d, stage %d\n", st.Base, st.Cycle, st.StageIndex+1)
		if st.Pending != nil {
			fmt.Fprintf(&sb, "⏳ Pending: %s $%s on %s\n", st.Pending.Color.Name(), st.Pending.Amount.StringFixed(2), st.Pending.RoundID)
		} else if st.Next != nil {
			fmt.Fprintf(&sb, "➡️ Next: %s $%s\n", st.Next.Color.Name(), st.Next.Amount.StringFixed(2))
		}
		if st.Frozen {
			sb.WriteString("🧊 Frozen until next round\n")
		}
	} else {
		sb.WriteString("🔍 Scanning for pattern\n")
	}

	if n := len(snap.RecentOutcomes); n > 0 {
		colors := make([]types.Color, 0, n)
		for _, o := range snap.RecentOutcomes {
			colors = append(colors, o.Color)
		}
		fmt.Fprintf(&sb, "🎲 Last: `%s`\n", types.FormatColors(colors))
	}

	if snap.Err != "" {
		fmt.Fprintf(&sb, "\n⚠️ `%s`", snap.Err)
	}
	return sb.String()
}

func renderStageTable(s strategy.Stats, stakes strategy.StakeTable) string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.Header("Stage", "Stake", "W", "L")
	for i := 0; i < strategy.MaxStages; i++ {
		table.Append(
			fmt.Sprintf("%d", i+1),
			stakes[i].StringFixed(2),
			fmt.Sprintf("%d", s.WinCounters[i]),
			fmt.Sprintf("%d", s.LossCounters[i]),
		)
	}
	table.Render()
	return sb.String()
}

func formatWagers(records []types.WagerRecord) string {
	var sb strings.Builder
	sb.WriteString("📜 *LAST WAGERS*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, r := range records {
		emoji := "❌"
		switch r.Result {
		case types.ResultWin:
			emoji = "✅"
		case types.ResultGreenLoss:
			emoji = "🟢"
		case types.ResultMaxStage:
			emoji = "💀"
		}
		sim := ""
		if r.Simulated {
			sim = " _sim_"
		}
		fmt.Fprintf(&sb, "%s S%d %s→%s (%d) $%s%s\n   _%s_\n",
			emoji, r.StageIndex+1, r.Predicted, r.Actual, r.ActualValue,
			r.Amount.StringFixed(2), sim, r.SettledAt.Format("Jan 2 15:04:05"))
	}
	return sb.String()
}

func rowsToRecords(rows []storage.WagerRow) []types.WagerRecord {
	out := make([]types.WagerRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.WagerRecord{
			ID:          r.ID,
			Account:     r.Account,
			RoundID:     r.RoundID,
			StageIndex:  r.StageIndex,
			LevelIndex:  r.LevelIndex,
			Predicted:   colorFromCode(r.Predicted),
			Actual:      colorFromCode(r.Actual),
			ActualValue: r.ActualValue,
			IsWin:       r.IsWin,
			Result:      r.Result,
			Amount:      r.Amount,
			Simulated:   r.Simulated,
			SettledAt:   r.SettledAt,
		})
	}
	return out
}

func colorFromCode(code string) types.Color {
	switch code {
	case "R":
		return types.Red
	case "B":
		return types.Black
	}
	return types.Green
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "+$" + d.StringFixed(2)
}

func notRunningText(err error) string {
	if errors.Is(err, core.ErrUnknownAccount) {
		return "📭 Engine not started yet. Use /start"
	}
	return fmt.Sprintf("❌ %v", err)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
