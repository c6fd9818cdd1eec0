package risk

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/typing"
	"github.com/mbd888/fittrust/internal/validation"
)

// maxDeviceIDLen bounds the raw device identifier before hashing.
const maxDeviceIDLen = 256

// SignalInput is one batch of raw signals from an authenticated client.
type SignalInput struct {
	UserID   string
	RemoteIP string
	DeviceID string
	Typing   *typing.Features
}

// IngestResult says which signals were stored. It never echoes raw values.
type IngestResult struct {
	IPPrefixStored bool `json:"ipPrefixStored"`
	DeviceStored   bool `json:"deviceStored"`
	TypingStored   bool `json:"typingStored"`
}

// SignalService applies the privacy reductions and stores raw signals.
type SignalService struct {
	store Store
	now   func() time.Time
}

// NewSignalService creates a signal ingestion service.
func NewSignalService(store Store) *SignalService {
	return &SignalService{store: store, now: time.Now}
}

// Ingest stores the reduced forms of in: the IP prefix, the device digest
// and, when backed by enough samples, the typing features. An unparseable
// IP is skipped rather than rejected.
func (s *SignalService) Ingest(ctx context.Context, in SignalInput) (*IngestResult, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, trusterr.ErrUnauthorized
	}
	deviceID := strings.TrimSpace(in.DeviceID)
	if errs := validation.Validate(
		validation.MaxLength("deviceId", deviceID, maxDeviceIDLen),
	); len(errs) > 0 {
		return nil, trusterr.Invalid("%v", errs)
	}
	if in.Typing != nil {
		if err := in.Typing.Validate(); err != nil {
			if errors.Is(err, typing.ErrInvalidFeatures) {
				return nil, trusterr.Invalid("%v", err)
			}
			return nil, err
		}
	}

	now := s.now().UTC()
	res := &IngestResult{}

	if prefix, err := ReduceIP(in.RemoteIP); err == nil {
		if err := s.store.TouchIPPrefix(ctx, userID, prefix, now); err != nil {
			return nil, trusterr.Store("store ip prefix", err)
		}
		res.IPPrefixStored = true
	}
	if deviceID != "" {
		if err := s.store.TouchDevice(ctx, userID, HashDevice(deviceID), now); err != nil {
			return nil, trusterr.Store("store device binding", err)
		}
		res.DeviceStored = true
	}
	if in.Typing != nil && in.Typing.Sufficient() {
		if err := s.store.AddTypingSample(ctx, userID, *in.Typing, now); err != nil {
			return nil, trusterr.Store("store typing sample", err)
		}
		res.TypingStored = true
	}
	return res, nil
}
