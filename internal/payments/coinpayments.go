package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultAPIURL = "https://www.coinpayments.net/api.php"

var ErrGateway = errors.New("payment gateway error")

// DepositRequest asks the gateway for a deposit address.
type DepositRequest struct {
	SourceCurrency     string
	DestinationNetwork string
	Amount             decimal.Decimal
	BuyerContact       string
	CorrelationID      string
}

// Deposit is the gateway's answer.
type Deposit struct {
	TxnID         string
	Address       string
	Amount        decimal.Decimal
	ExpirySeconds int
	QRImageURL    string
}

// ExpiryHours rounds the gateway timeout to whole hours.
func (d *Deposit) ExpiryHours() int {
	return (d.ExpirySeconds + 1800) / 3600
}

// DepositCreator is the narrow contract the conversation engine depends on.
type DepositCreator interface {
	CreateDeposit(ctx context.Context, req DepositRequest) (*Deposit, error)
}

// CoinPayments talks to the CoinPayments v1 merchant API.
type CoinPayments struct {
	publicKey  string
	privateKey string
	apiURL     string
	client     *http.Client
	logger     *zap.Logger
}

func NewCoinPayments(publicKey, privateKey, apiURL string, logger *zap.Logger) *CoinPayments {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &CoinPayments{
		publicKey:  publicKey,
		privateKey: privateKey,
		apiURL:     apiURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type createTransactionResponse struct {
	Error  string `json:"error"`
	Result struct {
		Amount      string          `json:"amount"`
		Address     string          `json:"address"`
		TxnID       string          `json:"txn_id"`
		Timeout     json.RawMessage `json:"timeout"`
		QRCodeURL   string          `json:"qrcode_url"`
		StatusURL   string          `json:"status_url"`
		CheckoutURL string          `json:"checkout_url"`
	} `json:"result"`
}

func (c *CoinPayments) CreateDeposit(ctx context.Context, req DepositRequest) (*Deposit, error) {
	form := url.Values{}
	form.Set("version", "1")
	form.Set("cmd", "create_transaction")
	form.Set("key", c.publicKey)
	form.Set("format", "json")
	form.Set("amount", req.Amount.String())
	form.Set("currency1", req.SourceCurrency)
	form.Set("currency2", req.DestinationNetwork)
	form.Set("buyer_email", req.BuyerContact)
	form.Set("custom", req.CorrelationID)
	body := form.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("HMAC", c.sign(body))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGateway, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	var parsed createTransactionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrGateway, err)
	}
	if parsed.Error != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrGateway, parsed.Error)
	}

	amount, err := decimal.NewFromString(parsed.Result.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", ErrGateway, parsed.Result.Amount)
	}
	timeout, err := strconv.Atoi(strings.Trim(string(parsed.Result.Timeout), `"`))
	if err != nil {
		return nil, fmt.Errorf("%w: bad timeout %s", ErrGateway, parsed.Result.Timeout)
	}

	c.logger.Info("deposit address created",
		zap.String("txn_id", parsed.Result.TxnID),
		zap.String("correlation_id", req.CorrelationID),
		zap.String("network", req.DestinationNetwork))

	return &Deposit{
		TxnID:         parsed.Result.TxnID,
		Address:       parsed.Result.Address,
		Amount:        amount,
		ExpirySeconds: timeout,
		QRImageURL:    parsed.Result.QRCodeURL,
	}, nil
}

func (c *CoinPayments) sign(body string) string {
	mac := hmac.New(sha512.New, []byte(c.privateKey))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}
