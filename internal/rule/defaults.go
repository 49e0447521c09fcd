package rule

// DefaultRules returns the starter rule set offered on first run.
func DefaultRules() []Rule {
	return []Rule{
		{Keyword: "olá", ReplyMessage: "Olá! Esta é uma resposta automática.", Priority: 0},
		{Keyword: "teste", ReplyMessage: "Esta é uma regra de teste.", Priority: 1},
	}
}
