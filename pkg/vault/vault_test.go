package vault

import (
	"encoding/base64"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVault(t *testing.T) {
	Convey("Given a vault with a generated key", t, func() {
		encodedKey, err := GenerateKey()
		So(err, ShouldBeNil)

		v, err := New(encodedKey)
		So(err, ShouldBeNil)

		Convey("When a secret is encrypted", func() {
			ciphertext, err := v.Encrypt("super-secret-token")
			So(err, ShouldBeNil)

			Convey("Then the ciphertext is standard base64", func() {
				_, err := base64.StdEncoding.DecodeString(ciphertext)
				So(err, ShouldBeNil)
			})

			Convey("Then it decrypts back to the plaintext", func() {
				plaintext, err := v.Decrypt(ciphertext)
				So(err, ShouldBeNil)
				So(plaintext, ShouldEqual, "super-secret-token")
			})

			Convey("Then IsEncrypted recognizes it", func() {
				So(v.IsEncrypted(ciphertext), ShouldBeTrue)
			})

			Convey("Then another key cannot decrypt it", func() {
				otherKey, err := GenerateKey()
				So(err, ShouldBeNil)

				other, err := New(otherKey)
				So(err, ShouldBeNil)

				_, err = other.Decrypt(ciphertext)
				So(err, ShouldNotBeNil)
				So(other.IsEncrypted(ciphertext), ShouldBeFalse)
			})
		})

		Convey("When plain values are probed", func() {
			So(v.IsEncrypted(""), ShouldBeFalse)
			So(v.IsEncrypted("just a token"), ShouldBeFalse)
			So(v.IsEncrypted(base64.StdEncoding.EncodeToString([]byte("not fernet"))), ShouldBeFalse)
		})

		Convey("When garbage is decrypted", func() {
			_, err := v.Decrypt("%%% not base64 %%%")
			So(err, ShouldNotBeNil)

			_, err = v.Decrypt(base64.StdEncoding.EncodeToString([]byte("not fernet")))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given an invalid key", t, func() {
		_, err := New("not-a-key")
		So(err, ShouldNotBeNil)
	})
}
