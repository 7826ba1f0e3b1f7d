// Package internal holds process-level configuration and logging setup.
package internal

import (
	"fmt"
	"time"

	"roomlink/ratelimit"
)

type Config struct {
	Host           string `env:"HOST,default=localhost"`
	Port           int    `env:"PORT,default=8080"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`

	TokenSecret string `env:"TOKEN_SECRET,required=true"`
	TokenIssuer string `env:"TOKEN_ISSUER,default=roomlink"`

	SendBufferSize  int           `env:"SEND_BUFFER_SIZE,default=64"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT,default=3s"`
	LimiterTimeout  time.Duration `env:"LIMITER_TIMEOUT,default=2s"`
	HistoryPageSize *int          `env:"HISTORY_PAGE_SIZE"`
	MaskReplacement string        `env:"MASK_REPLACEMENT,default=*"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL,default=5m"`
	JanitorMaxIdle  time.Duration `env:"JANITOR_MAX_IDLE,default=10m"`
	HealthInterval  time.Duration `env:"HEALTH_INTERVAL,default=30s"`

	MessageSendPoints   int           `env:"MESSAGE_SEND_POINTS,default=50"`
	MessageSendWindow   time.Duration `env:"MESSAGE_SEND_WINDOW,default=1m"`
	MessageSendCooldown time.Duration `env:"MESSAGE_SEND_COOLDOWN,default=30s"`
	TypingPoints        int           `env:"TYPING_POINTS,default=20"`
	TypingWindow        time.Duration `env:"TYPING_WINDOW,default=10s"`
	TypingCooldown      time.Duration `env:"TYPING_COOLDOWN,default=5s"`
	RoomJoinPoints      int           `env:"ROOM_JOIN_POINTS,default=10"`
	RoomJoinWindow      time.Duration `env:"ROOM_JOIN_WINDOW,default=1m"`
	RoomJoinCooldown    time.Duration `env:"ROOM_JOIN_COOLDOWN,default=30s"`
	GenericAPIPoints    int           `env:"GENERIC_API_POINTS,default=120"`
	GenericAPIWindow    time.Duration `env:"GENERIC_API_WINDOW,default=1m"`
	GenericAPICooldown  time.Duration `env:"GENERIC_API_COOLDOWN,default=10s"`
}

// Budgets assembles the per-action-class rate limit triples.
func (c Config) Budgets() map[ratelimit.Class]ratelimit.Budget {
	return map[ratelimit.Class]ratelimit.Budget{
		ratelimit.ClassMessageSend: {
			Points: c.MessageSendPoints, Window: c.MessageSendWindow,
			Cooldown: c.MessageSendCooldown,
		},
		ratelimit.ClassTyping: {
			Points: c.TypingPoints, Window: c.TypingWindow,
			Cooldown: c.TypingCooldown,
		},
		ratelimit.ClassRoomJoin: {
			Points: c.RoomJoinPoints, Window: c.RoomJoinWindow,
			Cooldown: c.RoomJoinCooldown,
		},
		ratelimit.ClassGenericAPI: {
			Points: c.GenericAPIPoints, Window: c.GenericAPIWindow,
			Cooldown: c.GenericAPICooldown,
		},
	}
}

// MaskRune validates that the configured mask replacement is one character.
func (c Config) MaskRune() (rune, error) {
	r := []rune(c.MaskReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf("MASK_REPLACEMENT must be a single character, got %q",
			c.MaskReplacement)
	}
	return r[0], nil
}
