package room

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
)

// TokenOptions customizes a minted access token
type TokenOptions struct {
	Room       string
	Name       string
	Agent      bool
	Attributes map[string]string
	ValidFor   time.Duration
}

// MintToken creates a room join token signed with the API key pair
func MintToken(apiKey, apiSecret, identity string, opts TokenOptions) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", fmt.Errorf("api key and secret are required to mint a token")
	}
	if identity == "" {
		return "", fmt.Errorf("identity is required to mint a token")
	}
	if opts.Room == "" {
		return "", fmt.Errorf("room is required to mint a token")
	}

	validFor := opts.ValidFor
	if validFor <= 0 {
		validFor = time.Hour
	}

	at := auth.NewAccessToken(apiKey, apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     opts.Room,
	}).
		SetIdentity(identity).
		SetValidFor(validFor)

	if opts.Name != "" {
		at.SetName(opts.Name)
	}
	if opts.Agent {
		at.SetKind(livekit.ParticipantInfo_AGENT)
	}
	if len(opts.Attributes) > 0 {
		at.SetAttributes(opts.Attributes)
	}

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to sign token for %s: %w", identity, err)
	}
	return token, nil
}
