package task

import (
	"net"

	"github.com/opd-ai/btspider/dht"
	"github.com/sirupsen/logrus"
)

// Sink turns the follow-up work of one table's engine into tasks.
// It implements dht.TaskSink.
type Sink struct {
	submitter Submitter
	table     int
}

// NewSink creates a sink for the engine of the table at index table.
func NewSink(submitter Submitter, table int) *Sink {
	return &Sink{submitter: submitter, table: table}
}

func (s *Sink) FindNode(addr *net.UDPAddr, target dht.NodeID) {
	s.submit(&FindNode{IP: addr.IP.String(), Port: uint16(addr.Port), Target: target})
}

func (s *Sink) GetPeers(infoHash dht.NodeID) {
	s.submit(&GetPeers{InfoHash: infoHash})
}

func (s *Sink) FetchMetadata(ip string, port uint16, infoHash dht.NodeID) {
	s.submit(&FetchMetadata{IP: ip, Port: port, InfoHash: infoHash, Tries: DefaultTries})
}

func (s *Sink) Respond(reply *dht.Reply, addr *net.UDPAddr) {
	s.submit(&Response{
		Table: s.table,
		Reply: reply.Kind,
		TxID:  reply.TxID,
		IP:    addr.IP.String(),
		Port:  uint16(addr.Port),
		ID:    reply.ID,
		Token: reply.Token,
	})
}

// submit never blocks; rejected tasks are dropped.
func (s *Sink) submit(t Task) {
	if err := s.submitter.Submit(t); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Sink.submit",
			"kind":     t.Kind().String(),
			"error":    err.Error(),
		}).Debug("Task dropped")
	}
}
