package arena

import "unsafe"

// nilLink is the sentinel stored in a free block's prev/next fields
// meaning "no such neighbor".
const nilLink int32 = -1

// freeLists is the per-class collection of intrusive doubly-linked
// free lists for one arena. Each free block stores its prev/next
// offsets in its own first 8 bytes (4 bytes each); those bytes are
// otherwise unused while the block is free. Because the link lives
// inside the block itself, removing an arbitrary block during
// coalesce (the buddy) is O(1): no list is walked.
type freeLists struct {
	region []byte
	start  unsafe.Pointer
	head   []int32 // one head offset (or nilLink) per size class
}

func newFreeLists(region []byte, classes int) *freeLists {
	head := make([]int32, classes)
	for i := range head {
		head[i] = nilLink
	}
	return &freeLists{
		region: region,
		start:  unsafe.Pointer(&region[0]),
		head:   head,
	}
}

func (f *freeLists) linkPtr(offset int32) unsafe.Pointer {
	return unsafe.Add(f.start, offset)
}

func (f *freeLists) getLink(offset int32) (prev, next int32) {
	p := f.linkPtr(offset)
	prev = *(*int32)(p)
	next = *(*int32)(unsafe.Add(p, 4))
	return
}

func (f *freeLists) setLink(offset, prev, next int32) {
	p := f.linkPtr(offset)
	*(*int32)(p) = prev
	*(*int32)(unsafe.Add(p, 4)) = next
}

// pushFront adds offset to the front of class's free list.
func (f *freeLists) pushFront(class int, offset int32) {
	oldHead := f.head[class]
	f.setLink(offset, nilLink, oldHead)
	if oldHead != nilLink {
		_, oldNext := f.getLink(oldHead)
		f.setLink(oldHead, offset, oldNext)
	}
	f.head[class] = offset
}

// popFront removes and returns the head of class's free list.
// Caller must check head[class] != nilLink first via Head.
func (f *freeLists) popFront(class int) int32 {
	offset := f.head[class]
	_, next := f.getLink(offset)
	if next != nilLink {
		_, nNext := f.getLink(next)
		f.setLink(next, nilLink, nNext)
	}
	f.head[class] = next
	return offset
}

// remove splices an arbitrary offset out of class's free list. O(1):
// it only touches the neighbors recorded in offset's own link.
func (f *freeLists) remove(class int, offset int32) {
	prev, next := f.getLink(offset)
	if prev == nilLink {
		f.head[class] = next
	} else {
		pPrev, _ := f.getLink(prev)
		f.setLink(prev, pPrev, next)
	}
	if next != nilLink {
		_, nNext := f.getLink(next)
		f.setLink(next, prev, nNext)
	}
}

func (f *freeLists) Head(class int) (int32, bool) {
	h := f.head[class]
	return h, h != nilLink
}

func (f *freeLists) Len(class int) int {
	n := 0
	for off := f.head[class]; off != nilLink; {
		n++
		_, next := f.getLink(off)
		off = next
	}
	return n
}

func (f *freeLists) reset() {
	for i := range f.head {
		f.head[i] = nilLink
	}
}
