package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind 标识告警类型。
type Kind string

const (
	// KindHedgeIntent 表示产生了新的对冲请求。
	KindHedgeIntent Kind = "hedge_intent"
	// KindOracleDegraded 表示预言机进入降级状态。
	KindOracleDegraded Kind = "oracle_degraded"
	// KindOracleRecovered 表示预言机恢复。
	KindOracleRecovered Kind = "oracle_recovered"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind           Kind
	Bucket         time.Time
	SpotPrice      decimal.Decimal
	EMAPrice       decimal.Decimal
	BandBps        int32
	DriftBps       int32
	TargetNotional decimal.Decimal
	Reason         string
	Channels       []string
	AdditionalMsg  string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Time("bucket", note.Bucket).
		Str("kind", string(note.Kind)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindHedgeIntent:
		builder.WriteString("[HedgeWatcher Rebalance]\n")
	case KindOracleDegraded:
		builder.WriteString("[HedgeWatcher Oracle Degraded]\n")
	case KindOracleRecovered:
		builder.WriteString("[HedgeWatcher Oracle Recovered]\n")
	default:
		builder.WriteString("[HedgeWatcher Alert]\n")
	}
	builder.WriteString(fmt.Sprintf("Bucket: %s UTC\n", note.Bucket.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Spot: %s USD\n", note.SpotPrice.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("EMA: %s USD\n", note.EMAPrice.StringFixed(4)))
	if note.Kind == KindHedgeIntent {
		builder.WriteString(fmt.Sprintf("Drift: %d bps (band %d bps)\n", note.DriftBps, note.BandBps))
		builder.WriteString(fmt.Sprintf("Target notional: %s USD\n", note.TargetNotional.StringFixed(2)))
	}
	if note.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
