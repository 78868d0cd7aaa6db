// Package tgui builds Telegram HTML messages that are safe by default:
// text passed to the builder is escaped, and only values of type H are
// inserted verbatim.
package tgui
