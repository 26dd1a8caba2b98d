package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kcstream/kcchat/internal/metrics"
	"github.com/kcstream/kcchat/internal/overlay"
	"github.com/kcstream/kcchat/internal/paypal"
	"github.com/kcstream/kcchat/internal/store"
)

// Orders older than this are rejected even when PayPal reports them
// completed; the client is expected to submit right after checkout.
const donationMaxAge = 5 * time.Minute

const donationMinAmount = 1.00

// processPayPal verifies a donation: the claimed order is fetched from
// the PayPal API, recorded, validated, and, if sound, announced on the
// overlay and published to chat with the amount attached.
func (s *Server) processPayPal(conn *Conn, userID int64, data json.RawMessage) {
	info, err := s.store.UserByID(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to look up donating user")
		return
	}

	if info.BannedUntil > s.now().Unix() {
		log.Info().Str("name", info.DisplayName).Msg("Banned user attempted to make a donation")
		return
	}

	if info.DisplayName == "" {
		log.Info().Int64("user_id", userID).Msg("User with no name attempted to make a donation")
		return
	}

	var payload struct {
		Message string          `json:"message"`
		Order   json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Debug().Err(err).Msg("Ignoring malformed paypal payload")
		return
	}

	var claimed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload.Order, &claimed); err != nil || claimed.ID == "" {
		log.Debug().Err(err).Msg("PayPal frame carried no order id")
		return
	}

	message := strings.TrimSpace(payload.Message)
	orderID := claimed.ID
	host := conn.host

	log.Debug().Str("name", info.DisplayName).Str("order_id", orderID).Msg("User made donation")

	// The order lookup happens off-loop; validation resumes on the
	// loop once the response is in. A 401 is refreshed and retried
	// inside the client.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		order, err := s.paypal.GetOrder(ctx, orderID)
		s.post(func() {
			if err != nil {
				log.Error().Err(err).Str("order_id", orderID).Msg("Error checking order")
				metrics.DonationsTotal.WithLabelValues("rejected").Inc()
				return
			}
			s.finishDonation(info, orderID, string(payload.Order), message, host, order)
		})
	}()
}

// finishDonation records and validates a fetched order. Runs on the
// loop.
func (s *Server) finishDonation(info store.User, orderID, rawOrder, message, host string, order *paypal.Order) {
	reject := func(reason string) {
		metrics.DonationsTotal.WithLabelValues("rejected").Inc()
		log.Warn().
			Str("order_id", orderID).
			Int64("user_id", info.ID).
			Str("name", info.DisplayName).
			Str("reason", reason).
			Msg("Order rejected")
	}

	// Recording before validating makes the order id burn even when
	// validation fails, so a replay can never succeed later.
	if err := s.store.RecordTransaction(orderID, info.ID, s.now().Unix(), rawOrder, message); err != nil {
		if store.IsDuplicate(err) {
			reject("transaction already exists in database")
		} else {
			log.Error().Err(err).Msg("Failed to record transaction in database")
			metrics.DonationsTotal.WithLabelValues("rejected").Inc()
		}
		return
	}

	if order.CreateTime.Before(s.now().Add(-donationMaxAge)) {
		reject("order was created more than 5 minutes ago")
		return
	}

	if order.Intent != "CAPTURE" {
		reject("intent was not CAPTURE")
		return
	}

	if order.Status != "COMPLETED" {
		reject("status was not COMPLETED")
		return
	}

	if len(order.PurchaseUnits) == 0 {
		reject("purchase units was empty")
		return
	}

	amountStr := order.PurchaseUnits[0].Amount.Value
	if order.PurchaseUnits[0].Amount.CurrencyCode != "USD" {
		reject("currency was not in USD")
		return
	}

	amount, _ := strconv.ParseFloat(amountStr, 64)
	if amount < donationMinAmount {
		reject("amount was less than 1.00 USD")
		return
	}

	if len([]rune(message)) > s.maxChatLength {
		reject("message was too long")
		return
	}

	if !s.isMessageAcceptable(message) {
		reject("message was unacceptable")
		return
	}

	metrics.DonationsTotal.WithLabelValues("accepted").Inc()
	s.overlay(overlay.Alert(info.DisplayName+" donated $"+amountStr, message))

	if message != "" {
		s.publish(info.DisplayName, info.ID, message, info.DisplayColor, host, info.AuthLevel, amountStr)
	}
}
