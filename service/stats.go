package service

import "server/model"

// StatusCounts ledger rows per lifecycle state
func StatusCounts() (counts map[model.Status]int64, err error) {
	rows := []struct {
		Status model.Status
		Count  int64
	}{}
	err = DB.Model(&model.Token{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	if err != nil {
		return
	}
	counts = make(map[model.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return
}

// AuthorTokens tokens minted by one author, ascending id
func AuthorTokens(address string) (tokens []model.Token, err error) {
	err = DB.Where("author = ?", address).Order("token_id ASC").Find(&tokens).Error
	return
}
