package admin

import (
	"errors"
	"strconv"
	"strings"

	"maca-service/internal/model"
)

// MaxCommandLength bounds the raw command text, before tokenizing.
const MaxCommandLength = 500

type Command string

const (
	CmdKick          Command = "kick"
	CmdMute          Command = "mute"
	CmdUnmute        Command = "unmute"
	CmdBan           Command = "ban"
	CmdUnban         Command = "unban"
	CmdSpectate      Command = "spectate"
	CmdLockTable     Command = "lock_table"
	CmdUnlockTable   Command = "unlock_table"
	CmdEndTableRound Command = "end_table_round"
	CmdCloseTable    Command = "close_table"
	CmdAddBalance    Command = "add_balance"
	CmdRemoveBalance Command = "remove_balance"
	CmdSetBalance    Command = "set_balance"
	CmdSetRole       Command = "set_role"
)

var minRoles = map[Command]model.Role{
	CmdKick:          model.RoleMod,
	CmdMute:          model.RoleMod,
	CmdUnmute:        model.RoleMod,
	CmdBan:           model.RoleMod,
	CmdUnban:         model.RoleMod,
	CmdSpectate:      model.RoleMod,
	CmdLockTable:     model.RoleAdmin,
	CmdUnlockTable:   model.RoleAdmin,
	CmdEndTableRound: model.RoleAdmin,
	CmdCloseTable:    model.RoleAdmin,
	CmdAddBalance:    model.RoleAdmin,
	CmdRemoveBalance: model.RoleAdmin,
	CmdSetBalance:    model.RoleSuper,
	CmdSetRole:       model.RoleSuper,
}

var aliases = map[string]Command{
	"lock":      CmdLockTable,
	"unlock":    CmdUnlockTable,
	"end_round": CmdEndTableRound,
}

// MinRole returns the least role allowed to run c.
func (c Command) MinRole() (model.Role, bool) {
	r, ok := minRoles[c]
	return r, ok
}

// ParseCommand maps the first token to a command, dropping a leading slash
// and resolving aliases.
func ParseCommand(token string) Command {
	name := strings.ToLower(strings.TrimSpace(strings.TrimLeft(token, "/")))
	if c, ok := aliases[name]; ok {
		return c
	}
	return Command(name)
}

var errUnterminated = errors.New("unterminated quote")

// Tokenize splits text the way a POSIX shell would: blanks separate words,
// single quotes are literal, double quotes allow backslash escapes and a
// bare backslash escapes the next character.
func Tokenize(text string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range text {
		switch {
		case escaped:
			if quote == '"' && r != '"' && r != '\\' && r != '$' && r != '`' {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inWord = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inWord {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, errUnterminated
	}
	if inWord {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// ParseAmount reads a currency amount such as "25" or "12.50" into cents.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "-"), "+")
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, strconv.ErrSyntax
	}
	if len(frac) > 2 {
		return 0, strconv.ErrSyntax
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, strconv.ErrSyntax
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, strconv.ErrSyntax
	}
	if units > (1<<62)/100 {
		return 0, strconv.ErrRange
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

// FormatCents renders cents as a two-decimal amount.
func FormatCents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + strconv.FormatInt(v/100, 10) + "." + leftPad2(v%100)
}

func leftPad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}
