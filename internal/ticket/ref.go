package ticket

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRef — ссылка на тикет не в формате "owner/repo#N".
var ErrInvalidRef = errors.New("invalid ticket reference")

// Ref — разобранная ссылка на issue или pull request.
type Ref struct {
	Owner  string
	Repo   string
	Number int
}

// ParseRef разбирает ссылку вида "owner/repo#N".
func ParseRef(s string) (Ref, error) {
	repoPart, numPart, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	owner, repo, ok := strings.Cut(repoPart, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	return Ref{Owner: owner, Repo: repo, Number: n}, nil
}

// String возвращает ссылку в формате "owner/repo#N".
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}
