package models

type Borrower struct {
	CardID  string `db:"card_id"`
	Name    string `db:"bname"`
	Address string `db:"address"`
	Phone   string `db:"phone"`
}
