package cache

// setNode represents one key in the set-order list
type setNode struct {
	key  Key
	prev *setNode
	next *setNode
}

// setOrder tracks keys by the time they were last set. head is the most
// recently set key and tail the least recently set, which is evicted first.
// Reads never reorder.
type setOrder struct {
	nodes map[Key]*setNode
	head  *setNode
	tail  *setNode
}

func newSetOrder() *setOrder {
	return &setOrder{nodes: make(map[Key]*setNode)}
}

// touch moves k to the front, adding it if needed
func (o *setOrder) touch(k Key) {
	if n, ok := o.nodes[k]; ok {
		o.unlink(n)
		o.pushFront(n)
		return
	}
	n := &setNode{key: k}
	o.nodes[k] = n
	o.pushFront(n)
}

// oldest returns the least recently set key
func (o *setOrder) oldest() (Key, bool) {
	if o.tail == nil {
		return "", false
	}
	return o.tail.key, true
}

func (o *setOrder) remove(k Key) {
	if n, ok := o.nodes[k]; ok {
		o.unlink(n)
		delete(o.nodes, k)
	}
}

func (o *setOrder) reset() {
	o.nodes = make(map[Key]*setNode)
	o.head = nil
	o.tail = nil
}

func (o *setOrder) pushFront(n *setNode) {
	n.prev = nil
	n.next = o.head
	if o.head != nil {
		o.head.prev = n
	}
	o.head = n
	if o.tail == nil {
		o.tail = n
	}
}

func (o *setOrder) unlink(n *setNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		o.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		o.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}
