package sellers

import (
	"database/sql"

	"github.com/fastprodman/farmpay/internal/repos/sellers"
)

var _ sellers.Sellers = (*sellersRepo)(nil)

type sellersRepo struct{ db *sql.DB }

func New(db *sql.DB) *sellersRepo {
	return &sellersRepo{db: db}
}
