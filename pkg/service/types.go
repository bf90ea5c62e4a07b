package service

import (
	"github.com/wehubfusion/cyclecounter/pkg/counter"
	sdkerrors "github.com/wehubfusion/cyclecounter/pkg/errors"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectAdvance = "advance"
	SubjectToken   = "token"
)

// AdvanceRequest asks the service to advance one counter.
//
// Key, when set, is used verbatim as the state key. Otherwise the key is
// resolved from Config.GroupKey and InstanceID. Fields missing from Config
// keep the values of counter.DefaultConfig.
type AdvanceRequest struct {
	Key        string         `json:"key,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	Config     counter.Config `json:"config"`
}

// AdvanceResponse carries either the emitted pair or an error.
type AdvanceResponse struct {
	Key   string           `json:"key,omitempty"`
	Value int64            `json:"value"`
	Cycle int64            `json:"cycle"`
	Error *sdkerrors.Error `json:"error,omitempty"`
}

// TokenRequest asks for a change-detection token.
type TokenRequest struct {
	Config counter.Config `json:"config"`
}

// TokenResponse carries a change-detection token or an error.
type TokenResponse struct {
	Token string           `json:"token,omitempty"`
	Error *sdkerrors.Error `json:"error,omitempty"`
}
