package storage

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"ProactiveInsights/internal/domain"
)

var atomFields = map[string]string{
	"subject":      "subject",
	"action":       "action",
	"outcome":      "outcome",
	"consequences": "consequences",
}

// CreateAtom stores a causal fact and returns its identifier.
func (r *SQLRepository) CreateAtom(ctx context.Context, atom domain.Atom) (string, error) {
	if atom.ID == "" {
		atom.ID = uuid.NewString()
	}
	if atom.CreatedAt.IsZero() {
		atom.CreatedAt = r.now()
	}
	q := r.sb.Insert("atoms").
		Columns("id", "subject", "action", "outcome", "consequences", "confidence", "source", "created_at").
		Values(atom.ID, atom.Subject, atom.Action, atom.Outcome, atom.Consequences, atom.Confidence,
			atom.Source, formatTime(atom.CreatedAt))
	if _, err := r.exec(ctx, q); err != nil {
		return "", fmt.Errorf("create atom: %w", err)
	}
	return atom.ID, nil
}

// SearchAtoms performs a case-insensitive substring match on one atom field.
func (r *SQLRepository) SearchAtoms(ctx context.Context, field, query string) ([]domain.Atom, error) {
	column, ok := atomFields[strings.ToLower(field)]
	if !ok {
		return nil, fmt.Errorf("search atoms: unknown field %q", field)
	}
	q := r.sb.Select("id", "subject", "action", "outcome", "consequences", "confidence", "source", "created_at").
		From("atoms").
		Where(sq.Expr("LOWER("+column+") LIKE ?", "%"+strings.ToLower(query)+"%")).
		OrderBy("created_at DESC")

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search atoms: %w", err)
	}
	defer rows.Close()

	var out []domain.Atom
	for rows.Next() {
		var (
			atom    domain.Atom
			created string
		)
		if err := rows.Scan(&atom.ID, &atom.Subject, &atom.Action, &atom.Outcome, &atom.Consequences,
			&atom.Confidence, &atom.Source, &created); err != nil {
			return nil, fmt.Errorf("scan atom: %w", err)
		}
		atom.CreatedAt = parseTime(created)
		out = append(out, atom)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
