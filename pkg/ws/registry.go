package ws

import (
	"slices"
	"time"
)

// UserData 连接的在线信息
type UserData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Connection 一条已接入的连接
type Connection struct {
	ID         string
	Transport  Transport
	RoomID     string // 为空表示不在任何房间
	UserID     string
	UserName   string
	Account    string // register 绑定的用户 ID
	RemoteAddr string
	CreatedAt  time.Time
}

// UserData 返回在线信息
func (c *Connection) UserData() UserData {
	return UserData{UserID: c.UserID, UserName: c.UserName}
}

// Open 传输层是否可写
func (c *Connection) Open() bool {
	return c.Transport != nil && c.Transport.State() == StateOpen
}

// ConnectionInfo 连接快照
type ConnectionInfo struct {
	ID         string     `json:"clientId"`
	RoomID     string     `json:"roomId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	UserName   string     `json:"userName,omitempty"`
	Account    string     `json:"account,omitempty"`
	RemoteAddr string     `json:"remoteAddress"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastPong   *time.Time `json:"lastPong,omitempty"`
}

// Registry 连接注册表
//
// Registry 本身不加锁，由 Hub 的互斥锁保护。
type Registry struct {
	conns    map[string]*Connection
	order    []string            // 接入顺序
	accounts map[string][]string // account -> 连接 ID
	maxConns int
}

// NewRegistry 创建注册表
func NewRegistry(maxConns int) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		accounts: make(map[string][]string),
		maxConns: maxConns,
	}
}

// Register 为传输层分配连接 ID
func (r *Registry) Register(t Transport) (*Connection, error) {
	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return nil, ErrTooManyConnections
	}

	id := newConnectionID()
	for r.conns[id] != nil {
		id = newConnectionID()
	}

	conn := &Connection{
		ID:         id,
		Transport:  t,
		RemoteAddr: t.RemoteAddr(),
		CreatedAt:  time.Now(),
	}
	r.conns[id] = conn
	r.order = append(r.order, id)
	return conn, nil
}

// Lookup 查找连接
func (r *Registry) Lookup(id string) (*Connection, bool) {
	conn, ok := r.conns[id]
	return conn, ok
}

// UpdatePresence 合并非空字段，未知 ID 不做任何事
func (r *Registry) UpdatePresence(id string, userID, userName *string) bool {
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	if userID != nil && *userID != "" {
		conn.UserID = *userID
	}
	if userName != nil && *userName != "" {
		conn.UserName = *userName
	}
	return true
}

// Remove 移除连接，不处理房间成员关系
func (r *Registry) Remove(id string) (*Connection, bool) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	r.unbind(conn)
	return conn, true
}

// Bind 将连接绑定到用户 ID，一个用户可以有多条连接
func (r *Registry) Bind(id, account string) bool {
	conn, ok := r.conns[id]
	if !ok || account == "" {
		return false
	}
	if conn.Account == account {
		return true
	}
	r.unbind(conn)
	conn.Account = account
	r.accounts[account] = append(r.accounts[account], id)
	return true
}

func (r *Registry) unbind(conn *Connection) {
	if conn.Account == "" {
		return
	}
	ids := slices.DeleteFunc(r.accounts[conn.Account], func(s string) bool { return s == conn.ID })
	if len(ids) == 0 {
		delete(r.accounts, conn.Account)
	} else {
		r.accounts[conn.Account] = ids
	}
	conn.Account = ""
}

// ConnectionsOf 返回绑定到用户 ID 的连接（绑定顺序）
func (r *Registry) ConnectionsOf(account string) []*Connection {
	ids := r.accounts[account]
	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := r.conns[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// Range 按接入顺序遍历，f 返回 false 时停止
func (r *Registry) Range(f func(*Connection) bool) {
	for _, id := range r.order {
		if !f(r.conns[id]) {
			return
		}
	}
}

// Count 连接数
func (r *Registry) Count() int {
	return len(r.conns)
}

// Snapshot 按接入顺序返回所有连接的快照
func (r *Registry) Snapshot() []ConnectionInfo {
	out := make([]ConnectionInfo, 0, len(r.order))
	r.Range(func(c *Connection) bool {
		state := StateClosed
		if c.Transport != nil {
			state = c.Transport.State()
		}
		info := ConnectionInfo{
			ID:         c.ID,
			RoomID:     c.RoomID,
			UserID:     c.UserID,
			UserName:   c.UserName,
			Account:    c.Account,
			RemoteAddr: c.RemoteAddr,
			State:      state.String(),
			CreatedAt:  c.CreatedAt,
		}
		if hb, ok := c.Transport.(heartbeater); ok {
			pong := hb.LastPong()
			info.LastPong = &pong
		}
		out = append(out, info)
		return true
	})
	return out
}
