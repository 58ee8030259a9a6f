package transport

import "errors"

// ErrRecipientUnreachable marks a send failure where the recipient has made
// itself permanently undeliverable (blocked the bot, deactivated account,
// chat gone). Adapters wrap platform errors so callers can classify with
// errors.Is without importing platform packages.
var ErrRecipientUnreachable = errors.New("recipient unreachable")
