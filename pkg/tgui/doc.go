// Package tgui holds the small text helpers used to build Telegram replies:
// HTML escaping for ParseMode "HTML", user mentions and rune-safe truncation.
package tgui
