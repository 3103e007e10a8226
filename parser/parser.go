package parser

// SQL解析器，将SQL文本解析为表达式树
type QueryParser interface {
	// 返回解析后的查询
	Parse() (Query, error)
}

// 代表一个解析后的SQL查询
type Query interface {
	// 获取原始SQL
	OriginalSQL() string
}
