// Package model はドメインモデルを定義する。
package model

import "time"

// Item は物資カタログのエントリを表す。
// コアからは読み取り専用の参照データであり、マイグレーションで初期投入される。
type Item struct {
	ID        string
	Name      string
	Unit      string
	Category  string
	CreatedAt time.Time
}
