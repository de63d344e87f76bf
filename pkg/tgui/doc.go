// Package tgui renders the bot's Telegram messages: escaped HTML fragments, a
// line-oriented message builder and inline keyboards whose buttons carry
// "scope:action:payload" callback data.
package tgui
