package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/protocol"
	"github.com/SnakeO/gps-catcher/internal/protocol/globalstar"
)

const maxBodyBytes = 1 << 20

// Ingestor is the part of the ingestion service the HTTP surface needs.
type Ingestor interface {
	Receive(ctx context.Context, p protocol.Protocol, raw []byte) (*model.RawMessage, error)
	DecodeOnly(ctx context.Context, p protocol.Protocol, raw []byte, tc protocol.TransportContext) ([]*model.CanonicalMessage, error)
}

// DeviceHandler receives device transmissions posted over HTTP.
type DeviceHandler struct {
	ingest Ingestor
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewDeviceHandler(ingest Ingestor, logger logrus.FieldLogger) *DeviceHandler {
	return &DeviceHandler{
		ingest: ingest,
		logger: logger,
		now:    time.Now,
	}
}

// Message returns a handler that archives the raw body for p and replies "ok".
func (h *DeviceHandler) Message(p protocol.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			c.String(http.StatusBadRequest, "unreadable body")
			return
		}
		h.receive(c, p, body)
	}
}

// SMS takes a GL200 report relayed by an SMS gateway in the Body form field.
func (h *DeviceHandler) SMS(c *gin.Context) {
	body := c.PostForm("Body")
	if body == "" {
		c.String(http.StatusBadRequest, "missing Body")
		return
	}
	h.receive(c, protocol.GL200, []byte(body))
}

func (h *DeviceHandler) receive(c *gin.Context, p protocol.Protocol, body []byte) {
	log := h.logger.WithField("protocol", p)

	rec, err := h.ingest.Receive(c.Request.Context(), p, body)
	switch {
	case errors.Is(err, protocol.ErrHeartbeat):
		c.String(http.StatusOK, "ok")
	case protocol.IsDecodingError(err):
		log.WithError(err).Warn("Malformed transmission")
		c.String(http.StatusOK, "malformed xml: "+err.Error())
	case err != nil:
		log.WithError(err).Error("Failed to receive transmission")
		c.String(http.StatusInternalServerError, "error")
	default:
		log.WithField("raw_id", rec.ID).Debug("Transmission received")
		c.String(http.StatusOK, "ok")
	}
}

// GlobalstarSTU acknowledges STU documents with the XML response the
// Globalstar back office expects.
func (h *DeviceHandler) GlobalstarSTU(c *gin.Context) {
	h.globalstar(c, protocol.GlobalstarSTU, globalstar.STUResponse, "STU Message OK")
}

// GlobalstarPRV acknowledges provisioning documents. They are archived only.
func (h *DeviceHandler) GlobalstarPRV(c *gin.Context) {
	h.globalstar(c, protocol.GlobalstarPRV, globalstar.PRVResponse, "PRV Message OK")
}

func (h *DeviceHandler) globalstar(c *gin.Context, p protocol.Protocol, kind globalstar.ResponseKind, okMessage string) {
	log := h.logger.WithField("protocol", p)

	body, err := readBody(c)
	if err != nil {
		h.ack(c, kind, globalstar.StateFail, "unreadable body", "")
		return
	}

	rec, err := h.ingest.Receive(c.Request.Context(), p, body)
	id := ""
	if rec != nil {
		id = rec.ID
	}

	switch {
	case protocol.IsDecodingError(err):
		log.WithError(err).Warn("Malformed Globalstar document")
		h.ack(c, kind, globalstar.StateFail, "malformed xml: "+err.Error(), id)
	case err != nil:
		log.WithError(err).Error("Failed to receive Globalstar document")
		h.ack(c, kind, globalstar.StateFail, err.Error(), id)
	default:
		h.ack(c, kind, globalstar.StatePass, okMessage, id)
	}
}

func (h *DeviceHandler) ack(c *gin.Context, kind globalstar.ResponseKind, state, message, id string) {
	c.Data(http.StatusOK, "text/xml; charset=utf-8",
		[]byte(globalstar.BuildResponse(kind, state, message, id, h.now())))
}

// decodable lists the devices the synchronous decode API accepts.
var decodable = map[string]protocol.Protocol{
	"gl200":       protocol.GL200,
	"gps306a":     protocol.GPS306A,
	"spot":        protocol.SpotTrace,
	"smart_one_b": protocol.GlobalstarSTU,
}

type decodedMessage struct {
	ESN        string       `json:"esn"`
	Source     model.Source `json:"source"`
	Value      string       `json:"value"`
	Meta       string       `json:"meta"`
	OccurredAt time.Time    `json:"occurred_at"`
	DedupKey   string       `json:"dedup_key"`
}

// Decode runs a payload through its decoder without storing anything.
func (h *DeviceHandler) Decode(c *gin.Context) {
	device := c.Param("device")
	p, ok := decodable[device]
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"code":    "invalid_device",
			"message": "The device " + device + " can not be handled.",
		})
		return
	}

	payload := c.Query("payload")
	if payload == "" {
		payload = c.PostForm("payload")
	}
	if payload == "" {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "payload is required"})
		return
	}

	msgs, err := h.ingest.DecodeOnly(c.Request.Context(), p, []byte(payload), protocol.TransportContext{ReceivedAt: h.now()})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}

	out := make([]decodedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodedMessage{
			ESN:        m.ESN,
			Source:     m.Source,
			Value:      m.Value,
			Meta:       m.Meta,
			OccurredAt: m.OccurredAt,
			DedupKey:   m.DedupKey,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"messages": out},
	})
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
}
