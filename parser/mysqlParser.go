package parser

import (
	"fmt"

	tiParser "github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	log "github.com/sirupsen/logrus"

	// 注册字面量解析驱动
	_ "github.com/pingcap/tidb/types/parser_driver"
)

// MySQL语法的查询解析器
type MySQLQueryParser struct {
	sql    string
	parser *tiParser.Parser
	query  *ParsedQuery
}

// 解析后的查询：语句列表、SELECT作用域以及节点归属关系
type ParsedQuery struct {
	sql     string
	stmts   []ast.StmtNode
	selects []*ast.SelectStmt
	owner   map[ast.Node]*ast.SelectStmt
}

func NewMySQLQueryParser(sql string) QueryParser {
	return &MySQLQueryParser{sql: sql, parser: tiParser.New()}
}

func (parser *MySQLQueryParser) Parse() (query Query, err error) {
	log.Debugf("original sql is [%v]", parser.sql)

	var stmts []ast.StmtNode
	stmts, _, err = parser.parser.Parse(parser.sql, "", "")
	if err != nil {
		err = fmt.Errorf("parse sql failed,err=[%v],sql=[%v]", err.Error(), parser.sql)
		return
	}
	if len(stmts) == 0 {
		err = fmt.Errorf("parse empty sql=%v", parser.sql)
		return
	}

	parsed := &ParsedQuery{sql: parser.sql, stmts: stmts, owner: map[ast.Node]*ast.SelectStmt{}}
	for _, stmt := range stmts {
		builder := &scopeBuilder{owner: parsed.owner}
		stmt.Accept(builder)
		parsed.selects = append(parsed.selects, builder.selects...)
	}
	log.Debugf("parsed %v statement(s) with %v select scope(s)", len(parsed.stmts), len(parsed.selects))

	parser.query = parsed
	query = parsed

	return
}

func (query *ParsedQuery) OriginalSQL() string {
	return query.sql
}

func (query *ParsedQuery) Statements() []ast.StmtNode {
	return query.stmts
}

// 深度优先顺序返回查询中所有SELECT作用域，包括CTE、子查询与集合操作的每个分支
func (query *ParsedQuery) Selects() []*ast.SelectStmt {
	return query.selects
}

// 返回节点所属的最近SELECT作用域，顶层节点返回nil
func (query *ParsedQuery) OwnerSelect(node ast.Node) *ast.SelectStmt {
	return query.owner[node]
}

// 收集整个查询中出现的所有表名节点
func (query *ParsedQuery) TableNames() (names []*ast.TableName) {
	for _, stmt := range query.stmts {
		for _, node := range CollectNodes(stmt) {
			if tableName, ok := node.(*ast.TableName); ok {
				names = append(names, tableName)
			}
		}
	}
	return
}

// 收集作用域FROM/JOIN中直接声明的表，不进入子查询内部
func FromTables(scope *ast.SelectStmt) []*ast.TableSource {
	if scope == nil || scope.From == nil {
		return nil
	}
	return collectTableSources(scope.From.TableRefs)
}

func collectTableSources(node ast.ResultSetNode) (tables []*ast.TableSource) {
	if node == nil {
		return
	}
	switch rsNode := node.(type) {
	case *ast.Join:
		tables = append(tables, collectTableSources(rsNode.Left)...)
		tables = append(tables, collectTableSources(rsNode.Right)...)
	case *ast.TableSource:
		tables = append(tables, rsNode)
	default:
		log.Debugf("unknown ResultSetNode type=%T", node)
	}
	return
}

// 深度优先收集节点本身及其所有子孙节点
func CollectNodes(root ast.Node) []ast.Node {
	if root == nil {
		return nil
	}
	collector := &nodeCollector{}
	root.Accept(collector)
	return collector.nodes
}

type nodeCollector struct {
	nodes []ast.Node
}

func (collector *nodeCollector) Enter(node ast.Node) (ast.Node, bool) {
	collector.nodes = append(collector.nodes, node)
	return node, false
}

func (collector *nodeCollector) Leave(node ast.Node) (ast.Node, bool) {
	return node, true
}

// 作用域构建器：记录每个节点所属的SELECT
type scopeBuilder struct {
	stack   []*ast.SelectStmt
	selects []*ast.SelectStmt
	owner   map[ast.Node]*ast.SelectStmt
}

func (builder *scopeBuilder) Enter(node ast.Node) (ast.Node, bool) {
	if len(builder.stack) > 0 {
		builder.owner[node] = builder.stack[len(builder.stack)-1]
	}
	if selectStmt, ok := node.(*ast.SelectStmt); ok {
		builder.selects = append(builder.selects, selectStmt)
		builder.stack = append(builder.stack, selectStmt)
	}
	return node, false
}

func (builder *scopeBuilder) Leave(node ast.Node) (ast.Node, bool) {
	if _, ok := node.(*ast.SelectStmt); ok {
		builder.stack = builder.stack[:len(builder.stack)-1]
	}
	return node, true
}
