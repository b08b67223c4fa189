package registry

import (
	"io"
	"net"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/synapse/pkg/auth"
)

func TestRegistryBindings(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		reg := New(4)

		Convey("When a writer is added", func() {
			server, client := net.Pipe()
			defer server.Close()
			defer client.Close()

			connection := reg.Add("app-1", &auth.Claims{Name: "one"}, server)

			Convey("Then both indices resolve it", func() {
				So(connection, ShouldNotBeNil)
				So(reg.FindByWriter(server), ShouldEqual, connection)
				So(reg.FindByID("app-1"), ShouldHaveLength, 1)
				So(reg.Len(), ShouldEqual, 1)
			})

			Convey("And rebinding the writer replaces the record", func() {
				rebound := reg.Add("app-2", &auth.Claims{Name: "two"}, server)

				So(reg.FindByWriter(server), ShouldEqual, rebound)
				So(reg.FindByID("app-1"), ShouldBeEmpty)
				So(reg.FindByID("app-2"), ShouldHaveLength, 1)
				So(reg.Len(), ShouldEqual, 1)
				So(connection.Send([]byte("late")), ShouldBeFalse)
			})
		})

		Convey("When an application holds several writers", func() {
			serverOne, clientOne := net.Pipe()
			serverTwo, clientTwo := net.Pipe()
			defer clientOne.Close()
			defer clientTwo.Close()

			reg.Add("app-1", &auth.Claims{}, serverOne)
			reg.Add("app-1", &auth.Claims{}, serverTwo)

			So(reg.FindByID("app-1"), ShouldHaveLength, 2)

			Convey("Then RemoveByWriter only unbinds one", func() {
				removed := reg.RemoveByWriter(serverOne)

				So(removed, ShouldNotBeNil)
				So(reg.FindByWriter(serverOne), ShouldBeNil)
				So(reg.FindByID("app-1"), ShouldHaveLength, 1)
				So(reg.RemoveByWriter(serverOne), ShouldBeNil)
			})

			Convey("Then RemoveByID unbinds them all", func() {
				removed := reg.RemoveByID("app-1")

				So(removed, ShouldHaveLength, 2)
				So(reg.FindByID("app-1"), ShouldBeEmpty)
				So(reg.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestConnectionSend(t *testing.T) {
	Convey("Given a registered connection", t, func() {
		reg := New(1)
		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()

		connection := reg.Add("app-1", &auth.Claims{}, server)

		Convey("When the peer reads, frames arrive in order", func() {
			So(connection.Send([]byte("first")), ShouldBeTrue)

			buf := make([]byte, 5)
			_, err := io.ReadFull(client, buf)

			So(err, ShouldBeNil)
			So(string(buf), ShouldEqual, "first")
		})

		Convey("When the peer never reads, sends degrade to drops", func() {
			accepted := 0

			for i := 0; i < 10; i++ {
				if connection.Send([]byte("frame")) {
					accepted++
				}
			}

			// One frame can sit in the blocked writer and one in the outbox.
			So(accepted, ShouldBeGreaterThanOrEqualTo, 1)
			So(accepted, ShouldBeLessThanOrEqualTo, 3)
		})

		Convey("When the connection is removed, sends are refused", func() {
			reg.RemoveByWriter(server)
			So(connection.Send([]byte("frame")), ShouldBeFalse)
		})
	})
}

func TestRegistrySnapshot(t *testing.T) {
	Convey("Given a registry with several connections", t, func() {
		reg := New(4)

		var writers []net.Conn

		for _, id := range []string{"charlie", "alpha", "bravo"} {
			server, client := net.Pipe()
			defer client.Close()

			writers = append(writers, server)
			reg.Add(id, &auth.Claims{Admin: id == "alpha"}, server)
			time.Sleep(time.Millisecond)
		}

		Convey("Then a full snapshot is sorted by the requested key", func() {
			snapshot := reg.Snapshot(nil, "id", 0, 0)

			So(snapshot, ShouldHaveLength, 3)
			So(snapshot[0].ID, ShouldEqual, "alpha")
			So(snapshot[1].ID, ShouldEqual, "bravo")
			So(snapshot[2].ID, ShouldEqual, "charlie")
		})

		Convey("Then paging slices the sorted view", func() {
			snapshot := reg.Snapshot(nil, "id", 1, 1)

			So(snapshot, ShouldHaveLength, 1)
			So(snapshot[0].ID, ShouldEqual, "bravo")

			So(reg.Snapshot(nil, "id", 5, 0), ShouldBeEmpty)
		})

		Convey("Then filters narrow the view", func() {
			admins := reg.Snapshot(func(connection *Connection) bool {
				return connection.Claims.Admin
			}, "", 0, 0)

			So(admins, ShouldHaveLength, 1)
			So(admins[0].ID, ShouldEqual, "alpha")
		})

		Convey("And the default sort is connection time", func() {
			snapshot := reg.Snapshot(nil, "", 0, 0)

			So(snapshot, ShouldHaveLength, 3)
			So(snapshot[0].Writer(), ShouldEqual, writers[0])
		})
	})
}
